package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
)

// InternalAuditEvent is the wire form the email service posts for
// non-transactional audit entries.
type InternalAuditEvent struct {
	UserID      *string        `json:"userId" validate:"omitempty,uuid"`
	PerformedBy *string        `json:"performedBy" validate:"omitempty,uuid"`
	Action      string         `json:"action" validate:"required"`
	Resource    string         `json:"resource"`
	IPAddress   string         `json:"ipAddress"`
	UserAgent   string         `json:"userAgent"`
	Metadata    map[string]any `json:"metadata"`
	Success     bool           `json:"success"`
	Error       string         `json:"error"`
}

// InternalAuditLog accepts audit entries from the peer service. The route is
// fenced by the internal secret middleware.
func (h *Handler) InternalAuditLog(w http.ResponseWriter, r *http.Request) {
	var req InternalAuditEvent
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := audit.Entry{
		Action:    audit.Action(req.Action),
		Resource:  req.Resource,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Metadata:  req.Metadata,
		Success:   req.Success,
		Error:     req.Error,
	}
	if req.UserID != nil {
		id, err := uuid.Parse(*req.UserID)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		entry.UserID = &id
	}
	if req.PerformedBy != nil {
		id, err := uuid.Parse(*req.PerformedBy)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid performedBy")
			return
		}
		entry.PerformedBy = &id
	}

	h.recorder.Record(r.Context(), entry)
	helpers.RespondMessage(w, http.StatusCreated, "recorded")
}
