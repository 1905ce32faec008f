package emailflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/emailflow"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// fakeSender captures the rendered links so tests can fish the token back out.
type fakeSender struct {
	VerificationLinks []string
	ResetLinks        []string
	MagicLinks        []string
}

func (f *fakeSender) SendVerification(ctx context.Context, to, link string) error {
	f.VerificationLinks = append(f.VerificationLinks, link)
	return nil
}

func (f *fakeSender) SendPasswordReset(ctx context.Context, to, link string) error {
	f.ResetLinks = append(f.ResetLinks, link)
	return nil
}

func (f *fakeSender) SendMagicLink(ctx context.Context, to, link string, isNewUser bool) error {
	f.MagicLinks = append(f.MagicLinks, link)
	return nil
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	_, tok, found := strings.Cut(link, "token=")
	require.True(t, found, "link %q carries no token", link)
	return tok
}

type fixture struct {
	svc    *emailflow.Service
	store  *storage.MemoryStore
	clock  *clock.Manual
	sender *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	oob := token.NewOutOfBand("oob-secret", 24*time.Hour, time.Hour, 15*time.Minute, clk)
	recorder := audit.NewDBRecorder(st, logger, clk)
	sender := &fakeSender{}

	svc := emailflow.NewService(st, oob, plainHasher{}, sender, recorder, logger, clk, "https://app.example.com/")
	return &fixture{svc: svc, store: st, clock: clk, sender: sender}
}

var testReq = auth.Request{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}

func (f *fixture) seedUser(t *testing.T, email string, verified bool) *storage.User {
	t.Helper()
	now := f.clock.Now()
	u := &storage.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  "plain:hunter2hunter2",
		Role:          storage.RoleUser,
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func TestVerificationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com", false)

	require.NoError(t, f.svc.SendVerification(ctx, "alice@example.com", testReq))
	require.Len(t, f.sender.VerificationLinks, 1)
	link := f.sender.VerificationLinks[0]
	assert.True(t, strings.HasPrefix(link, "https://app.example.com/verify-email?token="))

	tok := tokenFromLink(t, link)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.VerifyEmail(ctx, tok, testReq))

	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)

	logs, err := f.store.ListAuditLogsForUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, string(audit.ActionEmailVerified), logs[0].Action)

	// Verification tokens die on use.
	err = f.svc.VerifyEmail(ctx, tok, testReq)
	assert.ErrorIs(t, err, token.ErrOOBInvalid)
}

func TestSendVerification_UnknownUser(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SendVerification(context.Background(), "ghost@example.com", testReq)
	assert.ErrorIs(t, err, emailflow.ErrUserNotFound)
}

func TestVerifyEmail_AlreadyVerifiedSpendsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice@example.com", true)

	require.NoError(t, f.svc.SendVerification(ctx, "alice@example.com", testReq))
	tok := tokenFromLink(t, f.sender.VerificationLinks[0])

	err := f.svc.VerifyEmail(ctx, tok, testReq)
	assert.ErrorIs(t, err, emailflow.ErrAlreadyVerified)

	// The token was consumed even though nothing changed.
	err = f.svc.VerifyEmail(ctx, tok, testReq)
	assert.ErrorIs(t, err, token.ErrOOBInvalid)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice@example.com", false)
	f.seedUser(t, "bob@example.com", true)

	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "ghost@example.com", testReq), emailflow.ErrUserNotFound)
	assert.ErrorIs(t, f.svc.ResendVerification(ctx, "bob@example.com", testReq), emailflow.ErrAlreadyVerified)

	require.NoError(t, f.svc.ResendVerification(ctx, "alice@example.com", testReq))
	require.NoError(t, f.svc.ResendVerification(ctx, "alice@example.com", testReq))
	require.Len(t, f.sender.VerificationLinks, 2)

	// Only the latest link is live.
	first := tokenFromLink(t, f.sender.VerificationLinks[0])
	err := f.svc.VerifyEmail(ctx, first, testReq)
	assert.ErrorIs(t, err, token.ErrOOBInvalid)

	second := tokenFromLink(t, f.sender.VerificationLinks[1])
	assert.NoError(t, f.svc.VerifyEmail(ctx, second, testReq))
}

func TestSendPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SendPasswordReset(context.Background(), "ghost@example.com", testReq)
	assert.NoError(t, err)
	assert.Empty(t, f.sender.ResetLinks)
}

func TestResetPassword_EpochBump(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com", true)

	// Lock the account and give it a live session; the reset clears both.
	until := f.clock.Now().Add(10 * time.Minute)
	u.AccountLockedUntil = &until
	u.FailedLoginAttempts = 5
	require.NoError(t, f.store.UpdateUser(ctx, u))

	now := f.clock.Now()
	require.NoError(t, f.store.CreateRefreshToken(ctx, &storage.RefreshToken{
		ID: uuid.New(), UserID: u.ID, Token: "old-refresh",
		ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now,
	}))
	require.NoError(t, f.store.CreateSession(ctx, &storage.Session{
		ID: uuid.New(), UserID: u.ID, RefreshToken: "old-refresh",
		IsActive: true, LastActivityAt: now, CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}))

	require.NoError(t, f.svc.SendPasswordReset(ctx, "alice@example.com", testReq))
	tok := tokenFromLink(t, f.sender.ResetLinks[0])

	result, err := f.svc.ResetPassword(ctx, tok, "brand-new-password", testReq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.SessionsTerminated)

	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain:brand-new-password", got.PasswordHash)
	assert.Equal(t, u.TokenVersion+1, got.TokenVersion)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.AccountLockedUntil)

	tokens, err := f.store.ListRefreshTokensForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	// One shot.
	_, err = f.svc.ResetPassword(ctx, tok, "another-password", testReq)
	assert.ErrorIs(t, err, token.ErrOOBUsed)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice@example.com", true)

	require.NoError(t, f.svc.SendPasswordReset(ctx, "alice@example.com", testReq))
	tok := tokenFromLink(t, f.sender.ResetLinks[0])

	f.clock.Advance(time.Hour + time.Minute)
	_, err := f.svc.ResetPassword(ctx, tok, "brand-new-password", testReq)
	assert.ErrorIs(t, err, token.ErrOOBExpired)
}

func TestMagicLinkMail(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.MagicLinkMail(context.Background(), "alice@example.com", "the-token", true))
	require.Len(t, f.sender.MagicLinks, 1)
	assert.Equal(t, "https://app.example.com/magic-login?token=the-token", f.sender.MagicLinks[0])
}
