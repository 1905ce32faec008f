package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func TestRegisterFailure_LocksAtThreshold(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	u := &storage.User{}

	for i := 1; i < MaxFailedAttempts; i++ {
		assert.False(t, registerFailure(u, now), "attempt %d should not lock", i)
		assert.Equal(t, i, u.FailedLoginAttempts)
		assert.Nil(t, u.AccountLockedUntil)
	}

	assert.True(t, registerFailure(u, now))
	assert.Equal(t, now.Add(LockDuration), *u.AccountLockedUntil)
}

func TestLockLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	u := &storage.User{}

	assert.False(t, lockActive(u, now))
	assert.False(t, lockExpired(u, now))

	until := now.Add(LockDuration)
	u.AccountLockedUntil = &until

	assert.True(t, lockActive(u, now))
	assert.False(t, lockExpired(u, now))

	later := now.Add(LockDuration)
	assert.False(t, lockActive(u, later))
	assert.True(t, lockExpired(u, later))

	u.FailedLoginAttempts = MaxFailedAttempts
	clearLock(u)
	assert.Zero(t, u.FailedLoginAttempts)
	assert.Nil(t, u.AccountLockedUntil)
}
