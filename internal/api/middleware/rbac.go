package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// RequireRole gates a route group on the authenticated user's role.
// Must run after AuthMiddleware.
func RequireRole(role storage.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have, err := GetRole(r.Context())
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if have != role {
				slog.Warn("rbac_denied", "required", string(role), "have", string(have), "path", r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
