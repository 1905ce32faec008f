// Package gdpr implements the data-subject rights operations: export,
// anonymization, permanent deletion and email change.
package gdpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrSelfAction      = errors.New("cannot perform this action on your own account")
	ErrBadConfirmation = errors.New("confirmation phrase does not match")
	ErrInvalidPassword = errors.New("invalid password")
)

// AnonymizedSentinel replaces personal fields on anonymized audit rows.
const AnonymizedSentinel = "anonymized"

// AnonymizeConfirmation is the literal a user must echo before their data
// is irreversibly scrubbed.
const AnonymizeConfirmation = "ANONYMIZE_MY_DATA"

type Service struct {
	store  storage.Store
	audit  audit.Recorder
	mail   auth.Mailer
	hasher auth.PasswordHasher
	logger *slog.Logger
	clock  clock.Clock
}

func NewService(store storage.Store, auditRec audit.Recorder, mail auth.Mailer, hasher auth.PasswordHasher, logger *slog.Logger, clk clock.Clock) *Service {
	return &Service{store: store, audit: auditRec, mail: mail, hasher: hasher, logger: logger, clock: clk}
}

// Export is the single structured document handed to the data subject.
// Credential material never appears: no password hash, no token values.
type Export struct {
	Profile       auth.UserSummary   `json:"profile"`
	Sessions      []SessionRecord    `json:"sessions"`
	AuditTrail    []AuditRecord      `json:"auditTrail"`
	RefreshTokens []RefreshTokenInfo `json:"refreshTokens"`
	ExportedAt    time.Time          `json:"exportedAt"`
}

type SessionRecord struct {
	ID             uuid.UUID `json:"id"`
	DeviceName     *string   `json:"deviceName,omitempty"`
	DeviceType     *string   `json:"deviceType,omitempty"`
	Browser        *string   `json:"browser,omitempty"`
	OS             *string   `json:"os,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	IsActive       bool      `json:"isActive"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type AuditRecord struct {
	Action    string         `json:"action"`
	Resource  *string        `json:"resource,omitempty"`
	IPAddress *string        `json:"ipAddress,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Success   bool           `json:"success"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RefreshTokenInfo indexes a credential row by id and lifetime only.
type RefreshTokenInfo struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportData bundles everything the platform holds about the user.
func (s *Service) ExportData(ctx context.Context, userID uuid.UUID, req auth.Request) (*Export, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListAuditLogsForUser(ctx, userID, 100)
	if err != nil {
		return nil, err
	}
	tokens, err := s.store.ListRefreshTokensForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	export := &Export{
		Profile:    auth.Summarize(u),
		ExportedAt: s.clock.Now(),
	}
	for _, sess := range sessions {
		export.Sessions = append(export.Sessions, SessionRecord{
			ID:             sess.ID,
			DeviceName:     sess.DeviceName,
			DeviceType:     sess.DeviceType,
			Browser:        sess.Browser,
			OS:             sess.OS,
			IPAddress:      sess.IPAddress,
			IsActive:       sess.IsActive,
			LastActivityAt: sess.LastActivityAt,
			CreatedAt:      sess.CreatedAt,
			ExpiresAt:      sess.ExpiresAt,
		})
	}
	for _, l := range logs {
		export.AuditTrail = append(export.AuditTrail, AuditRecord{
			Action:    l.Action,
			Resource:  l.Resource,
			IPAddress: l.IPAddress,
			Metadata:  l.Metadata,
			Success:   l.Success,
			CreatedAt: l.CreatedAt,
		})
	}
	for _, t := range tokens {
		export.RefreshTokens = append(export.RefreshTokens, RefreshTokenInfo{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionUserDataExported,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	return export, nil
}

// Anonymize strips all personal data while keeping the user row, so the
// audit trail's foreign keys stay intact. The caller must echo the
// confirmation literal and re-prove their password. The final audit row is
// written before the scrub and is itself anonymized with the rest.
func (s *Service) Anonymize(ctx context.Context, userID uuid.UUID, password, confirmation string, req auth.Request) error {
	if confirmation != AnonymizeConfirmation {
		return ErrBadConfirmation
	}
	now := s.clock.Now()

	return s.store.WithTx(ctx, func(st storage.Store) error {
		u, err := st.GetUserByID(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
			return ErrInvalidPassword
		}

		// Recorded first: the scrub below rewrites this row too.
		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionUserDataAnonymized,
			Resource:  u.Email,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Success:   true,
		})

		if _, err := st.AnonymizeAuditLogsForUser(ctx, userID); err != nil {
			return err
		}
		if _, err := st.DeactivateSessionsForUser(ctx, userID); err != nil {
			return err
		}
		if _, err := st.DeleteRefreshTokensForUser(ctx, userID); err != nil {
			return err
		}
		if _, err := st.DeleteOutOfBandTokensForUser(ctx, userID); err != nil {
			return err
		}

		u.Email = fmt.Sprintf("anonymized_%s@deleted.local", u.ID)
		u.PasswordHash = AnonymizedSentinel
		u.EmailVerified = false
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
		u.LastLoginAt = nil
		u.LastLoginIP = nil
		u.UpdatedAt = now
		return st.UpdateUser(ctx, u)
	})
}

// PermanentDelete removes the user and every dependent row. The audit entry
// pins the deleted identifiers into metadata, because after the cascade
// nothing else remembers them.
func (s *Service) PermanentDelete(ctx context.Context, adminID, targetID uuid.UUID, req auth.Request) error {
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

	s.audit.Record(ctx, audit.Entry{
		PerformedBy: &adminID,
		Action:      audit.ActionUserPermanentlyDeleted,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Metadata: map[string]any{
			"deletedUserId": u.ID.String(),
			"deletedEmail":  u.Email,
			"deletedRole":   u.Role,
		},
		Success: true,
	})

	return s.store.DeleteUser(ctx, targetID)
}

// UpdateEmail moves the account to a new address and restarts verification.
// A mail failure leaves the change in place; the user can retry the send.
func (s *Service) UpdateEmail(ctx context.Context, userID uuid.UUID, newEmail string, req auth.Request) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))

	u, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	oldEmail := u.Email

	if other, err := s.store.GetUserByEmail(ctx, newEmail); err == nil && other.ID != userID {
		return ErrEmailTaken
	}

	if _, err := s.store.DeleteUnusedOutOfBandTokens(ctx, userID, storage.KindVerification); err != nil {
		return err
	}

	u.Email = newEmail
	u.EmailVerified = false
	u.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return ErrEmailTaken
		}
		return err
	}

	if err := s.mail.SendVerification(ctx, newEmail); err != nil {
		s.audit.Record(ctx, audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionEmailUpdateFailed,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Metadata:  map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
			Success:   false,
			Error:     err.Error(),
		})
		return fmt.Errorf("email updated but verification dispatch failed: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionEmailUpdated,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
		Success:   true,
	})
	return nil
}
