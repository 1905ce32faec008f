package api

import (
	"net/http"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
)

func (h *Handler) ExportData(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	export, err := h.gdpr.ExportData(r.Context(), userID, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="data-export.json"`)
	helpers.RespondJSON(w, http.StatusOK, export)
}

// AnonymizeRequest carries the confirmation literal and a fresh password
// proof before the irreversible scrub.
type AnonymizeRequest struct {
	Confirmation string `json:"confirmation" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

func (h *Handler) Anonymize(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AnonymizeRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gdpr.Anonymize(r.Context(), userID, req.Password, req.Confirmation, requestInfo(r)); err != nil {
		respondServiceError(w, err)
		return
	}

	h.clearRefreshCookie(w)
	helpers.RespondMessage(w, http.StatusOK, "your data has been anonymized")
}

// UpdateEmailRequest is the body for the email change endpoint.
type UpdateEmailRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email"`
}

func (h *Handler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateEmailRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gdpr.UpdateEmail(r.Context(), userID, req.NewEmail, requestInfo(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "email updated; please verify the new address")
}

func (h *Handler) MyAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	logs, err := h.store.ListAuditLogsForUser(r.Context(), userID, 50)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
