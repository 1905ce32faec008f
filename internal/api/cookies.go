package api

import (
	"net/http"
	"time"
)

// setRefreshCookie plants the refresh token as an HTTP-only cookie. Dev uses
// SameSite=Lax; production is cross-origin and needs SameSite=None; Secure.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.IsProduction() {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.IsProduction() {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

// refreshTokenFromCookie returns the refresh token or "" when absent.
func (h *Handler) refreshTokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
