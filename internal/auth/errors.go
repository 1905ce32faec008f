package auth

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrEmailNotVerified = errors.New("email address not verified")
	ErrEmailTaken       = errors.New("email already registered")
	ErrRefreshNotFound  = errors.New("refresh token not found")
	ErrRefreshExpired   = errors.New("refresh token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated, please log in again")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSelfAction       = errors.New("cannot perform this action on your own account")
	ErrBadConfirmation  = errors.New("confirmation phrase does not match")
)

// LockedError reports a lockout refusal together with when it lifts.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// IsLocked extracts a LockedError when err carries one.
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
