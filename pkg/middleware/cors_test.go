package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantStatus  int
		wantHeaders map[string]string
	}{
		{
			name:        "AllowAll",
			origins:     []string{"*"},
			method:      http.MethodGet,
			origin:      "http://example.com",
			wantStatus:  http.StatusOK,
			wantHeaders: map[string]string{"Access-Control-Allow-Origin": "http://example.com"},
		},
		{
			name:        "AllowSpecificOrigin",
			origins:     []string{"http://foo.com"},
			method:      http.MethodGet,
			origin:      "http://foo.com",
			wantStatus:  http.StatusOK,
			wantHeaders: map[string]string{"Access-Control-Allow-Origin": "http://foo.com"},
		},
		{
			name:        "UnknownOriginGetsNoHeader",
			origins:     []string{"http://foo.com"},
			method:      http.MethodGet,
			origin:      "http://bar.com",
			wantStatus:  http.StatusOK,
			wantHeaders: map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:       "PreflightAllowedOrigin",
			origins:    []string{"http://foo.com"},
			method:     http.MethodOptions,
			origin:     "http://foo.com",
			wantStatus: http.StatusNoContent,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Credentials": "true",
				"Access-Control-Allow-Methods":     "GET, POST, DELETE",
				"Access-Control-Allow-Headers":     "*",
			},
		},
		{
			name:        "PreflightUnknownOriginFallsThrough",
			origins:     []string{"http://foo.com"},
			method:      http.MethodOptions,
			origin:      "http://bar.com",
			wantStatus:  http.StatusOK,
			wantHeaders: map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:        "NoOriginHeader",
			origins:     []string{"http://foo.com"},
			method:      http.MethodGet,
			origin:      "",
			wantStatus:  http.StatusOK,
			wantHeaders: map[string]string{"Access-Control-Allow-Origin": ""},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			handler := Cors(test.origins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(test.method, "/", nil)
			if test.origin != "" {
				req.Header.Set("Origin", test.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != test.wantStatus {
				t.Errorf("expected status %d, got %d", test.wantStatus, rec.Code)
			}
			for k, v := range test.wantHeaders {
				if got := rec.Header().Get(k); got != v {
					t.Errorf("expected %s to be %q, got %q", k, v, got)
				}
			}
		})
	}
}

func TestCorsDisabledWithoutOrigins(t *testing.T) {
	t.Setenv("OPENLLM_ORIGINS", "")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Cors(nil, next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://foo.com")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected middleware to be disabled, got status %d", rec.Code)
	}
}

func TestOriginsFromEnv(t *testing.T) {
	t.Setenv("OPENLLM_ORIGINS", " http://foo.com, ,http://bar.com ")
	origins := originsFromEnv()
	if len(origins) != 2 || origins[0] != "http://foo.com" || origins[1] != "http://bar.com" {
		t.Errorf("unexpected origins: %v", origins)
	}
}
