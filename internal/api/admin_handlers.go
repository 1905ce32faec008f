package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	users, total, err := h.auth.ListUsers(r.Context(), page, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// ChangeRoleRequest is the body for the role change endpoint.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN"`
}

func (h *Handler) AdminChangeRole(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req ChangeRoleRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.auth.ChangeRole(r.Context(), adminID, targetID, storage.Role(req.Role), requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"user": auth.Summarize(u)})
}

func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.auth.DeleteUser(r.Context(), adminID, targetID, requestInfo(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "user deleted")
}

func (h *Handler) AdminPermanentDelete(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.gdpr.PermanentDelete(r.Context(), adminID, targetID, requestInfo(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondMessage(w, http.StatusOK, "user permanently deleted")
}

func (h *Handler) AdminDeleteNonAdmins(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.auth.DeleteAllNonAdmins(r.Context(), adminID, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"deletedCount": count})
}

// BulkDeleteRequest carries the confirmation literal for the
// everything-but-me deletion.
type BulkDeleteRequest struct {
	Confirmation string `json:"confirmation" validate:"required"`
}

func (h *Handler) AdminDeleteAll(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req BulkDeleteRequest
	if err := helpers.DecodeAndValidate(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.auth.DeleteAllUsers(r.Context(), adminID, req.Confirmation, requestInfo(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"deletedCount": count})
}

func (h *Handler) AdminAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.AuditFilter{
		Action: q.Get("action"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	if v := q.Get("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid userId filter")
			return
		}
		filter.UserID = &id
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid success filter")
			return
		}
		filter.Success = &b
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid from filter")
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid to filter")
			return
		}
		filter.To = &t
	}

	logs, total, err := h.store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	limit := filter.Limit
	if limit < 1 || limit > 100 {
		limit = 50
	}
	totalPages := (total + int64(limit) - 1) / int64(limit)

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"total":      total,
		"totalPages": totalPages,
	})
}
