package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// BulkDeleteConfirmation is the literal a client must echo before the
// everything-but-me deletion runs.
const BulkDeleteConfirmation = "DELETE_ALL_USERS"

// ListUsers pages through all accounts for the admin overview.
func (s *Service) ListUsers(ctx context.Context, page, limit int) ([]UserSummary, int64, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	users, total, err := s.store.ListUsers(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]UserSummary, 0, len(users))
	for i := range users {
		out = append(out, Summarize(&users[i]))
	}
	return out, total, nil
}

// ChangeRole moves a user between USER and ADMIN. Admins cannot change
// their own role; a second admin has to do it.
func (s *Service) ChangeRole(ctx context.Context, adminID, targetID uuid.UUID, newRole storage.Role, req Request) (*storage.User, error) {
	if adminID == targetID {
		return nil, ErrSelfAction
	}

	u, err := s.store.GetUserByID(ctx, targetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	oldRole := u.Role
	u.Role = newRole
	u.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:      &targetID,
		PerformedBy: &adminID,
		Action:      audit.ActionRoleChanged,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Metadata:    map[string]any{"oldRole": oldRole, "newRole": newRole},
		Success:     true,
	})
	return u, nil
}

// DeleteUser removes an account; sessions, refresh tokens and out-of-band
// tokens go with it via cascade. Self-deletion is refused.
func (s *Service) DeleteUser(ctx context.Context, adminID, targetID uuid.UUID, req Request) error {
	if adminID == targetID {
		return ErrSelfAction
	}

	u, err := s.store.GetUserByID(ctx, targetID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	if err := s.store.DeleteUser(ctx, targetID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:      &targetID,
		PerformedBy: &adminID,
		Action:      audit.ActionUserDeleted,
		Resource:    u.Email,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Success:     true,
	})
	return nil
}

// DeleteAllNonAdmins removes every USER-role account.
func (s *Service) DeleteAllNonAdmins(ctx context.Context, adminID uuid.UUID, req Request) (int64, error) {
	count, err := s.store.DeleteUsersByRole(ctx, storage.RoleUser, adminID)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		PerformedBy: &adminID,
		Action:      audit.ActionUsersBulkDeleted,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Metadata:    map[string]any{"scope": "non_admins", "deletedCount": count},
		Success:     true,
	})
	return count, nil
}

// DeleteAllUsers removes every account except the calling admin's own. The
// caller must echo BulkDeleteConfirmation exactly.
func (s *Service) DeleteAllUsers(ctx context.Context, adminID uuid.UUID, confirmation string, req Request) (int64, error) {
	if confirmation != BulkDeleteConfirmation {
		return 0, ErrBadConfirmation
	}

	count, err := s.store.DeleteAllUsersExcept(ctx, adminID)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		PerformedBy: &adminID,
		Action:      audit.ActionUsersBulkDeleted,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Metadata:    map[string]any{"scope": "all_except_caller", "deletedCount": count},
		Success:     true,
	})
	return count, nil
}
