package emailapi

import (
	"errors"
	"net/http"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/emailflow"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/mailer"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

func requestInfo(r *http.Request) auth.Request {
	return auth.Request{
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyHandler(probe func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe != nil {
			if err := probe(); err != nil {
				helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// EmailRequest is the body shared by the address-keyed endpoints.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TokenRequest is the body for verify-email.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResetPasswordRequest is the body for reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

// SendMagicLinkRequest is the internal dispatch body from the auth service,
// which minted the token itself.
type SendMagicLinkRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Token     string `json:"token" validate:"required"`
	IsNewUser bool   `json:"isNewUser"`
}

func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.SendVerification(r.Context(), req.Email, requestInfo(r)); err != nil {
		h.respondFlowError(w, err, flowVerification)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "verification email sent")
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.VerifyEmail(r.Context(), req.Token, requestInfo(r)); err != nil {
		h.respondFlowError(w, err, flowVerification)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "email verified")
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.ResendVerification(r.Context(), req.Email, requestInfo(r)); err != nil {
		h.respondFlowError(w, err, flowVerification)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "verification email sent")
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.SendPasswordReset(r.Context(), req.Email, requestInfo(r)); err != nil {
		// The response stays uniform; the failure is for operators only.
		h.logger.Error("password_reset_dispatch_failed", "error", err)
	}
	helpers.RespondMessage(w, http.StatusOK, "if the email exists, a reset link has been sent")
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.flow.ResetPassword(r.Context(), req.Token, req.NewPassword, requestInfo(r))
	if err != nil {
		h.respondFlowError(w, err, flowReset)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"message":            "password reset; all existing sessions have been terminated",
		"sessionsTerminated": result.SessionsTerminated,
	})
}

func (h *Handler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req SendMagicLinkRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.MagicLinkMail(r.Context(), req.Email, req.Token, req.IsNewUser); err != nil {
		h.respondFlowError(w, err, flowMagicLink)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "magic link sent")
}

type flowKind int

const (
	flowVerification flowKind = iota
	flowReset
	flowMagicLink
)

// respondFlowError maps flow errors onto flow-specific client messages.
func (h *Handler) respondFlowError(w http.ResponseWriter, err error, kind flowKind) {
	switch {
	case errors.Is(err, emailflow.ErrAlreadyVerified):
		helpers.RespondError(w, http.StatusConflict, "email already verified")
	case errors.Is(err, emailflow.ErrUserNotFound):
		helpers.RespondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, token.ErrOOBUsed):
		helpers.RespondError(w, http.StatusBadRequest, flowMessage(kind, "already used"))
	case errors.Is(err, token.ErrOOBExpired):
		helpers.RespondError(w, http.StatusBadRequest, flowMessage(kind, "expired"))
	case errors.Is(err, token.ErrOOBInvalid):
		helpers.RespondError(w, http.StatusBadRequest, flowMessage(kind, "invalid"))
	case errors.Is(err, mailer.ErrDispatchFailed):
		helpers.RespondError(w, http.StatusBadGateway, "mail dispatch failed")
	default:
		h.logger.Error("unhandled_flow_error", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func flowMessage(kind flowKind, state string) string {
	var noun string
	switch kind {
	case flowReset:
		noun = "reset token"
	case flowMagicLink:
		noun = "magic link"
	default:
		noun = "verification token"
	}
	if state == "invalid" {
		return "invalid " + noun
	}
	return noun + " " + state
}
