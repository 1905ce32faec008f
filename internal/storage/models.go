package storage

import (
	"time"

	"github.com/google/uuid"
)

// Role is the access level of a user. The platform knows exactly two.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the identity root. All timestamps are UTC.
type User struct {
	ID            uuid.UUID
	Email         string // unique, case-folded to lowercase
	PasswordHash  string
	Role          Role
	EmailVerified bool

	// Lockout state. FailedLoginAttempts resets to zero on any successful
	// credential validation and when a lock expires.
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time

	// TokenVersion is a monotonically non-decreasing epoch embedded in every
	// signed token. Bumping it invalidates all previously issued JWTs.
	TokenVersion int

	LastLoginAt *time.Time
	LastLoginIP *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is one refresh-token-bearing login with its device context.
// When IsActive is false the session must never refresh again.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	RefreshToken string // unique; same string as the RefreshToken row

	DeviceName *string
	DeviceType *string
	Browser    *string
	OS         *string
	IPAddress  *string
	Country    *string
	City       *string

	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// RefreshToken is the bare credential index, kept alongside Session for fast
// lookup and independent cleanup.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string // unique
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenKind discriminates the three out-of-band token tables.
type TokenKind string

const (
	KindVerification  TokenKind = "VERIFICATION"
	KindPasswordReset TokenKind = "PASSWORD_RESET"
	KindMagicLink     TokenKind = "MAGIC_LINK"
)

// OutOfBandToken is a single-use credential backing verification, password
// reset and magic-link flows. Verification tokens are consumed by deletion;
// reset and magic-link tokens are consumed by flipping Used and retained for
// audit until swept.
type OutOfBandToken struct {
	ID        uuid.UUID
	Kind      TokenKind
	Token     string // unique per kind
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time

	Used      bool
	UsedAt    *time.Time
	IPAddress *string
	UserAgent *string
}

// AuditLog is an append-only record of one state transition.
type AuditLog struct {
	ID           uuid.UUID
	UserID       *uuid.UUID // nil for system-level rows
	PerformedBy  *uuid.UUID // the admin id when the action was administrative
	Action       string
	Resource     *string
	IPAddress    *string
	UserAgent    *string
	Metadata     map[string]any
	Success      bool
	ErrorMessage *string
	CreatedAt    time.Time
}
