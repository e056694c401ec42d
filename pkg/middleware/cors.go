package middleware

import (
	"net/http"
	"os"
	"strings"
)

// Cors wraps next with CORS handling for the configured origins. A nil or
// empty allowedOrigins falls back to the OPENLLM_ORIGINS environment variable;
// if that is unset too, CORS handling is disabled entirely and next is
// returned unchanged. A single "*" entry allows every origin.
func Cors(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = originsFromEnv()
	}
	if len(allowedOrigins) == 0 {
		return next
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		originOK := origin != "" && allowAll
		if !originOK && origin != "" {
			_, originOK = allowed[origin]
		}

		if originOK {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		// Preflight requests without a valid origin fall through to the
		// router so it can answer 404/405 as usual.
		if r.Method == http.MethodOptions {
			if !originOK {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originsFromEnv reads allowed origins from OPENLLM_ORIGINS, a comma-separated
// list. Unset or blank means no origins are allowed.
func originsFromEnv() []string {
	raw := os.Getenv("OPENLLM_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
