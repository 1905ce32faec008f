package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/gdpr"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/mailer"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

// respondServiceError maps domain errors onto the HTTP error model. Anything
// unrecognized is logged and surfaced as a generic 500.
func respondServiceError(w http.ResponseWriter, err error) {
	if le, ok := auth.IsLocked(err); ok {
		helpers.RespondJSON(w, http.StatusLocked, map[string]any{
			"error":       "account locked",
			"lockedUntil": le.Until.Format(time.RFC3339),
		})
		return
	}

	switch {
	// Credential failures are uniform on purpose: nothing discloses whether
	// the account exists or which part of the credential was wrong.
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrInvalidPassword):
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")

	case errors.Is(err, auth.ErrEmailNotVerified):
		helpers.RespondError(w, http.StatusUnauthorized, "email not verified")

	case errors.Is(err, auth.ErrRefreshNotFound),
		errors.Is(err, auth.ErrRefreshExpired),
		errors.Is(err, auth.ErrTokenInvalidated):
		helpers.RespondError(w, http.StatusUnauthorized, "invalid or expired token")

	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, gdpr.ErrEmailTaken):
		helpers.RespondError(w, http.StatusConflict, "email already registered")

	case errors.Is(err, auth.ErrSessionNotFound):
		helpers.RespondError(w, http.StatusNotFound, "session not found")

	case errors.Is(err, auth.ErrSelfAction),
		errors.Is(err, gdpr.ErrSelfAction):
		helpers.RespondError(w, http.StatusBadRequest, "cannot perform this action on your own account")

	case errors.Is(err, auth.ErrBadConfirmation),
		errors.Is(err, gdpr.ErrBadConfirmation):
		helpers.RespondError(w, http.StatusBadRequest, "confirmation phrase does not match")

	case errors.Is(err, gdpr.ErrInvalidPassword):
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")

	case errors.Is(err, gdpr.ErrUserNotFound):
		helpers.RespondError(w, http.StatusNotFound, "user not found")

	case errors.Is(err, token.ErrOOBUsed):
		helpers.RespondError(w, http.StatusBadRequest, "token already used")
	case errors.Is(err, token.ErrOOBExpired):
		helpers.RespondError(w, http.StatusBadRequest, "token expired")
	case errors.Is(err, token.ErrOOBInvalid):
		helpers.RespondError(w, http.StatusBadRequest, "invalid token")

	case errors.Is(err, mailer.ErrDispatchFailed):
		helpers.RespondError(w, http.StatusBadGateway, "mail dispatch failed")

	default:
		slog.Error("unhandled_service_error", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
