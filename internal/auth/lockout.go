package auth

import (
	"time"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Lockout policy. Transitions on these fields must happen inside the same
// transaction as the password-check outcome, so concurrent attempts cannot
// both slip past the threshold.
const (
	MaxFailedAttempts = 5
	LockDuration      = 30 * time.Minute
)

// lockActive reports whether the user is currently locked out.
func lockActive(u *storage.User, now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// lockExpired reports whether a past lock is still recorded on the row.
func lockExpired(u *storage.User, now time.Time) bool {
	return u.AccountLockedUntil != nil && !u.AccountLockedUntil.After(now)
}

// clearLock resets the failure counter and removes any lock.
func clearLock(u *storage.User) {
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
}

// registerFailure counts one failed attempt and locks the account when the
// threshold is reached. Returns true when this failure triggered the lock.
func registerFailure(u *storage.User, now time.Time) bool {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= MaxFailedAttempts {
		until := now.Add(LockDuration)
		u.AccountLockedUntil = &until
		return true
	}
	return false
}
