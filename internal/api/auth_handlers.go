package api

import (
	"net/http"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func requestInfo(r *http.Request) auth.Request {
	return auth.Request{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
}

// RegisterRequest is the expected JSON body for registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.auth.Register(r.Context(), req.Email, req.Password, storage.Role(req.Role), requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"user": auth.Summarize(u),
	})
}

// LoginRequest is the expected JSON body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, u, err := h.auth.Login(r.Context(), req.Email, req.Password, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
		"user":        auth.Summarize(u),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromCookie(r)
	if refreshToken == "" {
		helpers.RespondError(w, http.StatusUnauthorized, "refresh token missing")
		return
	}

	pair, _, err := h.auth.Refresh(r.Context(), refreshToken, requestInfo(r))
	if err != nil {
		// Force re-login on any rotation failure.
		h.clearRefreshCookie(w)
		respondServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromCookie(r)

	if err := h.auth.Logout(r.Context(), refreshToken, requestInfo(r)); err != nil {
		h.logger.Warn("logout_failed", "error", err)
	}

	// The cookie clears regardless: logout is idempotent.
	h.clearRefreshCookie(w)
	helpers.RespondMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"user": auth.Summarize(u),
	})
}

// MagicLinkRequest is the body for both magic-link endpoints.
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type MagicLinkVerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.RequestMagicLink(r.Context(), req.Email, requestInfo(r)); err != nil {
		if _, locked := auth.IsLocked(err); locked {
			respondServiceError(w, err)
			return
		}
		// Uniform response: failures that would reveal account state are
		// logged server-side only.
		h.logger.Error("magic_link_request_failed", "error", err)
	}

	helpers.RespondMessage(w, http.StatusOK, "if the email address is valid, a sign-in link has been sent")
}

func (h *Handler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkVerifyRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, u, err := h.auth.RedeemMagicLink(r.Context(), req.Token, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.ExpiresAt)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
		"user":        auth.Summarize(u),
	})
}
