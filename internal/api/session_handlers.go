package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
)

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.auth.ListSessions(r.Context(), userID, h.refreshTokenFromCookie(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.auth.RevokeSession(r.Context(), userID, sessionID, requestInfo(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "session revoked")
}

func (h *Handler) LogoutOtherDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	current := h.refreshTokenFromCookie(r)
	if current == "" {
		helpers.RespondError(w, http.StatusUnauthorized, "refresh token missing")
		return
	}

	count, err := h.auth.RevokeOtherSessions(r.Context(), userID, current, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"revokedCount": count})
}

func (h *Handler) LogoutAllDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.auth.RevokeAllSessions(r.Context(), userID, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// The caller's own session died too.
	h.clearRefreshCookie(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"revokedCount": count})
}
