package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "keys.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndListKeys(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateKey(t.Context(), "ci")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(created.Secret, "sk-"))
	require.Len(t, created.Secret, 51)
	require.Equal(t, created.Secret[:7], created.Prefix)
	require.NotEmpty(t, created.ID)

	keys, err := s.Keys(t.Context())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "ci", keys[0].Name)
	require.Equal(t, created.ID, keys[0].ID)
	require.Nil(t, keys[0].LastUsed)
}

func TestMiddleware(t *testing.T) {
	s := newTestStore(t)
	created, err := s.CreateKey(t.Context(), "ci")
	require.NoError(t, err)

	protected := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	check := func(authorization string) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		if authorization != "" {
			r.Header.Set("Authorization", authorization)
		}
		protected.ServeHTTP(w, r)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, check(""))
	require.Equal(t, http.StatusUnauthorized, check("Basic "+created.Secret))
	require.Equal(t, http.StatusUnauthorized, check("Bearer sk-0000"))
	require.Equal(t, http.StatusOK, check("Bearer "+created.Secret))
	require.Equal(t, http.StatusOK, check("bearer "+created.Secret))

	// Revoked keys stop authenticating.
	require.NoError(t, s.DeleteKey(t.Context(), created.ID))
	require.Equal(t, http.StatusUnauthorized, check("Bearer "+created.Secret))
}

func TestDeleteUnknownKey(t *testing.T) {
	s := newTestStore(t)
	require.ErrorIs(t, s.DeleteKey(t.Context(), "absent"), ErrKeyNotFound)
}

func TestKeyEndpoints(t *testing.T) {
	s := newTestStore(t)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/keys",
		strings.NewReader(`{"name":"ci"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	var created CreatedKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Secret)

	// Listings never expose the secret.
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/auth/keys", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), created.Secret)
	var keys []*Key
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	require.Len(t, keys, 1)

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/auth/keys/absent", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/auth/keys/"+created.ID, nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/keys",
		strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
