// Package audit is the append-only compliance trail. Every state transition
// on the platform, successful or not, lands here. Rows are never updated
// except by GDPR anonymization and never deleted except by retention sweeps.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the category of an audit row. The set below is closed; handlers
// must not invent ad-hoc action strings.
type Action string

const (
	// Account lifecycle
	ActionUserRegister Action = "USER_REGISTER"
	ActionUserLogin    Action = "USER_LOGIN"
	ActionUserLogout   Action = "USER_LOGOUT"
	ActionLoginFailed  Action = "LOGIN_FAILED"
	ActionTokenRefresh Action = "TOKEN_REFRESHED"

	// Lockout
	ActionAccountLocked   Action = "ACCOUNT_LOCKED"
	ActionAccountUnlocked Action = "ACCOUNT_UNLOCKED"

	// Sessions
	ActionSessionRevoked     Action = "SESSION_REVOKED"
	ActionLogoutAllDevices   Action = "USER_LOGOUT_ALL_DEVICES"
	ActionLogoutOtherDevices Action = "USER_LOGOUT_OTHER_DEVICES"

	// Email verification
	ActionEmailVerified         Action = "EMAIL_VERIFIED"
	ActionVerificationEmailSent Action = "VERIFICATION_EMAIL_SENT"

	// Password reset
	ActionPasswordResetRequested Action = "PASSWORD_RESET_REQUESTED"
	ActionPasswordResetCompleted Action = "PASSWORD_RESET_COMPLETED"
	ActionResetEmailSent         Action = "RESET_EMAIL_SENT"

	// Magic link
	ActionMagicLinkRequested Action = "MAGIC_LINK_REQUESTED"
	ActionMagicLinkSent      Action = "MAGIC_LINK_SENT"
	ActionMagicLinkLogin     Action = "MAGIC_LINK_LOGIN"
	ActionMagicLinkFailed    Action = "MAGIC_LINK_FAILED"

	// Administration
	ActionRoleChanged      Action = "ROLE_CHANGED"
	ActionUserDeleted      Action = "USER_DELETED"
	ActionUsersBulkDeleted Action = "USERS_BULK_DELETED"

	// GDPR
	ActionUserDataExported       Action = "USER_DATA_EXPORTED"
	ActionUserDataAnonymized     Action = "USER_DATA_ANONYMIZED"
	ActionUserPermanentlyDeleted Action = "USER_PERMANENTLY_DELETED"
	ActionEmailUpdated           Action = "EMAIL_UPDATED"
	ActionEmailUpdateFailed      Action = "EMAIL_UPDATE_FAILED"
)

// Entry is one audit event before persistence. UserID is the subject of the
// action; PerformedBy is set when an admin acted on someone else's account.
type Entry struct {
	UserID      *uuid.UUID
	PerformedBy *uuid.UUID
	Action      Action
	Resource    string
	IPAddress   string
	UserAgent   string
	Metadata    map[string]any
	Success     bool
	Error       string
	At          time.Time // zero means "recorder decides"
}
