package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

func TestRequestMagicLink_SilentSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RequestMagicLink(ctx, "new@example.com", testReq)
	require.NoError(t, err)

	// The account exists now, unverified, with a password nobody knows.
	u, err := f.store.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)

	mail := f.mailer.lastMagicLink(t)
	assert.Equal(t, "new@example.com", mail.Email)
	assert.True(t, mail.IsNewUser)
	assert.NotEmpty(t, mail.Token)
}

func TestRequestMagicLink_ExistingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "alice@example.com", "hunter2hunter2")

	require.NoError(t, f.svc.RequestMagicLink(ctx, "alice@example.com", testReq))

	mail := f.mailer.lastMagicLink(t)
	assert.False(t, mail.IsNewUser)
}

func TestRequestMagicLink_LockedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "hunter2hunter2")

	until := f.clock.Now().Add(10 * time.Minute)
	u.AccountLockedUntil = &until
	require.NoError(t, f.store.UpdateUser(ctx, u))

	err := f.svc.RequestMagicLink(ctx, "alice@example.com", testReq)
	_, locked := auth.IsLocked(err)
	assert.True(t, locked)
}

func TestRedeemMagicLink_OneShotLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestMagicLink(ctx, "new@example.com", testReq))
	mail := f.mailer.lastMagicLink(t)

	pair, u, err := f.svc.RedeemMagicLink(ctx, mail.Token, testReq)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	// Possession of the link verified the mailbox.
	assert.True(t, u.EmailVerified)
	require.NotNil(t, u.LastLoginAt)

	// One shot: the same link never logs in twice.
	_, _, err = f.svc.RedeemMagicLink(ctx, mail.Token, testReq)
	assert.ErrorIs(t, err, token.ErrOOBUsed)
}

func TestRedeemMagicLink_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestMagicLink(ctx, "new@example.com", testReq))
	mail := f.mailer.lastMagicLink(t)

	f.clock.Advance(16 * time.Minute)
	_, _, err := f.svc.RedeemMagicLink(ctx, mail.Token, testReq)
	assert.ErrorIs(t, err, token.ErrOOBExpired)
}

func TestRequestMagicLink_NewLinkSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestMagicLink(ctx, "new@example.com", testReq))
	first := f.mailer.lastMagicLink(t)

	require.NoError(t, f.svc.RequestMagicLink(ctx, "new@example.com", testReq))
	second := f.mailer.lastMagicLink(t)
	require.NotEqual(t, first.Token, second.Token)

	_, _, err := f.svc.RedeemMagicLink(ctx, first.Token, testReq)
	assert.ErrorIs(t, err, token.ErrOOBInvalid)

	_, _, err = f.svc.RedeemMagicLink(ctx, second.Token, testReq)
	assert.NoError(t, err)
}
