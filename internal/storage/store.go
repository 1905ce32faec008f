// Package storage owns transactional access to all persistent entities. It is
// the sole owner of unique-constraint enforcement on user emails, session
// refresh tokens and out-of-band token values.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken maps the unique violation on users.email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrDuplicateToken maps unique violations on token columns.
	ErrDuplicateToken = errors.New("token already exists")
)

// AuditFilter narrows the admin audit query. Zero values mean "any".
type AuditFilter struct {
	UserID  *uuid.UUID
	Action  string
	Success *bool
	From    *time.Time
	To      *time.Time

	// Offset pagination.
	Page  int
	Limit int
}

// Store is the narrow transactional interface the domain services depend on.
// Multi-row state transitions (login outcome, refresh rotation, password
// reset, magic-link redemption) run inside WithTx; everything else may use the
// pool's default isolation.
type Store interface {
	// WithTx runs fn inside a single serializable transaction. The Store
	// passed to fn is bound to that transaction; the outer Store must not be
	// used within fn.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, offset, limit int) ([]User, int64, error)
	DeleteUsersByRole(ctx context.Context, role Role, except uuid.UUID) (int64, error)
	DeleteAllUsersExcept(ctx context.Context, except uuid.UUID) (int64, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetSessionByRefreshToken(ctx context.Context, token string) (*Session, error)
	ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error)
	ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	UpdateSessionToken(ctx context.Context, id uuid.UUID, token string, expiresAt, lastActivity time.Time) error
	DeactivateSession(ctx context.Context, id uuid.UUID) error
	DeactivateSessionByToken(ctx context.Context, token string) error
	DeactivateSessionsForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteRefreshTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error)
	ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	// Out-of-band tokens
	CreateOutOfBandToken(ctx context.Context, t *OutOfBandToken) error
	GetOutOfBandToken(ctx context.Context, kind TokenKind, token string) (*OutOfBandToken, error)
	MarkOutOfBandTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent *string) error
	DeleteOutOfBandToken(ctx context.Context, id uuid.UUID) error
	DeleteUnusedOutOfBandTokens(ctx context.Context, userID uuid.UUID, kind TokenKind) (int64, error)
	DeleteOutOfBandTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	SweepExpiredOutOfBandTokens(ctx context.Context, now time.Time) (int64, error)
	SweepUsedMagicLinkTokens(ctx context.Context, usedBefore time.Time) (int64, error)

	// Audit log
	AppendAuditLog(ctx context.Context, l *AuditLog) error
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]AuditLog, int64, error)
	ListAuditLogsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]AuditLog, error)
	AnonymizeAuditLogsForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
