package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
)

func TestListSessions_MarksCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "hunter2hunter2")

	first, _, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, _, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", auth.Request{IP: "198.51.100.7", UserAgent: "Mozilla/5.0 (iPhone) Safari/605.1"})
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx, u.ID, second.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Newest activity first; only the caller's session is current.
	assert.True(t, sessions[0].Current)
	assert.False(t, sessions[1].Current)
	require.NotNil(t, sessions[0].DeviceType)
	assert.Equal(t, "mobile", *sessions[0].DeviceType)

	_ = first
}

func TestRevokeSession_OwnershipRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "alice@example.com", "hunter2hunter2")
	bob := f.registerVerified(t, "bob@example.com", "hunter2hunter2")

	pair, alice, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)
	sess, err := f.store.GetSessionByRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Someone else's session reads as not found, never as forbidden.
	err = f.svc.RevokeSession(ctx, bob.ID, sess.ID, testReq)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	err = f.svc.RevokeSession(ctx, alice.ID, uuid.New(), testReq)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	require.NoError(t, f.svc.RevokeSession(ctx, alice.ID, sess.ID, testReq))

	sessions, err := f.svc.ListSessions(ctx, alice.ID, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRevokeOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "hunter2hunter2")

	_, _, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, _, err = f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	current, _, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)

	count, err := f.svc.RevokeOtherSessions(ctx, u.ID, current.RefreshToken, testReq)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sessions, err := f.svc.ListSessions(ctx, u.ID, current.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Current)

	// The surviving credential still refreshes.
	_, _, err = f.svc.Refresh(ctx, current.RefreshToken, testReq)
	assert.NoError(t, err)
}

func TestRevokeAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "hunter2hunter2")

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, _, err = f.svc.Login(ctx, "alice@example.com", "hunter2hunter2", testReq)
	require.NoError(t, err)

	count, err := f.svc.RevokeAllSessions(ctx, u.ID, testReq)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, _, err = f.svc.Refresh(ctx, pair.RefreshToken, testReq)
	assert.ErrorIs(t, err, auth.ErrRefreshNotFound)
}
