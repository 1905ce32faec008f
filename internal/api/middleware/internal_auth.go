package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// InternalSecretHeader authenticates service-to-service calls.
const InternalSecretHeader = "X-Internal-Secret"

// InternalOnly gates a route on the shared internal secret. It is a second
// fence behind network isolation, not a replacement for it.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(InternalSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				slog.Warn("internal_secret_rejected", "path", r.URL.Path, "ip", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
