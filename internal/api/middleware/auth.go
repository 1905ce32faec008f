package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
)

// AuthMiddleware validates the bearer token and injects the user identity.
// A token-version mismatch is still a 401, but with its own message: the
// token was revoked, not expired, and the client must log in again.
func AuthMiddleware(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			u, _, err := svc.VerifyAccess(r.Context(), parts[1])
			if err != nil {
				slog.Warn("invalid_bearer_token", "error", err, "ip", r.RemoteAddr)
				if errors.Is(err, auth.ErrTokenInvalidated) {
					http.Error(w, "Session invalidated, please log in again", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := WithUser(r.Context(), u.ID, u.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
