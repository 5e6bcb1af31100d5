package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Middleware guards every route except the health probe with a bearer token.
// An empty token disables the check entirely (single-user deployments behind
// a reverse proxy).
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			// Expect: Authorization: Bearer <token>
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
