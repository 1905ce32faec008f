package gdpr_test

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/gdpr"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type fakeMailer struct {
	Fail          bool
	Verifications []string
}

func (f *fakeMailer) SendVerification(ctx context.Context, email string) error {
	if f.Fail {
		return errors.New("mail down")
	}
	f.Verifications = append(f.Verifications, email)
	return nil
}

func (f *fakeMailer) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	return nil
}

type fixture struct {
	svc    *gdpr.Service
	store  *storage.MemoryStore
	clock  *clock.Manual
	mailer *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewDBRecorder(st, logger, clk)
	mail := &fakeMailer{}

	svc := gdpr.NewService(st, recorder, mail, plainHasher{}, logger, clk)
	return &fixture{svc: svc, store: st, clock: clk, mailer: mail}
}

var testReq = auth.Request{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}

// seedUser creates a verified user with one session, one refresh token, one
// pending verification token and one audit row.
func (f *fixture) seedUser(t *testing.T, email string) *storage.User {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	u := &storage.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  "plain:hunter2hunter2",
		Role:          storage.RoleUser,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateUser(ctx, u))

	refresh := "refresh-" + email
	require.NoError(t, f.store.CreateRefreshToken(ctx, &storage.RefreshToken{
		ID: uuid.New(), UserID: u.ID, Token: refresh,
		ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now,
	}))
	require.NoError(t, f.store.CreateSession(ctx, &storage.Session{
		ID: uuid.New(), UserID: u.ID, RefreshToken: refresh,
		IsActive: true, LastActivityAt: now, CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}))
	require.NoError(t, f.store.CreateOutOfBandToken(ctx, &storage.OutOfBandToken{
		ID: uuid.New(), Kind: storage.KindVerification, Token: "verify-" + email,
		UserID: u.ID, ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}))

	ip := testReq.IP
	require.NoError(t, f.store.AppendAuditLog(ctx, &storage.AuditLog{
		ID: uuid.New(), UserID: &u.ID, Action: string(audit.ActionUserLogin),
		IPAddress: &ip, Success: true, CreatedAt: now,
	}))
	return u
}

func TestExportData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com")

	f.clock.Advance(time.Minute)
	export, err := f.svc.ExportData(ctx, u.ID, testReq)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", export.Profile.Email)
	require.Len(t, export.Sessions, 1)
	require.Len(t, export.AuditTrail, 1)
	require.Len(t, export.RefreshTokens, 1)
	assert.Equal(t, f.clock.Now(), export.ExportedAt)

	// Credential material stays out: the refresh entry is id and lifetime only.
	assert.NotEqual(t, uuid.Nil, export.RefreshTokens[0].ID)

	logs, err := f.store.ListAuditLogsForUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, string(audit.ActionUserDataExported), logs[0].Action)
}

func TestExportData_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ExportData(context.Background(), uuid.New(), testReq)
	assert.ErrorIs(t, err, gdpr.ErrUserNotFound)
}

func TestAnonymize_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com")

	err := f.svc.Anonymize(ctx, u.ID, "hunter2hunter2", "anonymize my data", testReq)
	assert.ErrorIs(t, err, gdpr.ErrBadConfirmation)

	err = f.svc.Anonymize(ctx, u.ID, "wrong-password", gdpr.AnonymizeConfirmation, testReq)
	assert.ErrorIs(t, err, gdpr.ErrInvalidPassword)

	// Nothing was touched.
	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestAnonymize_ScrubsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com")

	err := f.svc.Anonymize(ctx, u.ID, "hunter2hunter2", gdpr.AnonymizeConfirmation, testReq)
	require.NoError(t, err)

	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("anonymized_%s@deleted.local", u.ID), got.Email)
	assert.Equal(t, gdpr.AnonymizedSentinel, got.PasswordHash)
	assert.False(t, got.EmailVerified)
	assert.Nil(t, got.LastLoginAt)
	assert.Nil(t, got.LastLoginIP)

	sessions, err := f.store.ListSessionsByUser(ctx, u.ID)
	require.NoError(t, err)
	for _, s := range sessions {
		assert.False(t, s.IsActive)
	}
	tokens, err := f.store.ListRefreshTokensForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
	_, err = f.store.GetOutOfBandToken(ctx, storage.KindVerification, "verify-alice@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Every audit row is scrubbed in place, the anonymization record included.
	logs, err := f.store.ListAuditLogsForUser(ctx, u.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	var sawAnonymization bool
	for _, l := range logs {
		if l.Action == string(audit.ActionUserDataAnonymized) {
			sawAnonymization = true
		}
		require.NotNil(t, l.IPAddress)
		assert.Equal(t, gdpr.AnonymizedSentinel, *l.IPAddress)
		assert.NotContains(t, deref(l.Resource), "alice@example.com")
	}
	assert.True(t, sawAnonymization)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func TestPermanentDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedUser(t, "admin@example.com")
	target := f.seedUser(t, "bob@example.com")

	err := f.svc.PermanentDelete(ctx, admin.ID, admin.ID, testReq)
	assert.ErrorIs(t, err, gdpr.ErrSelfAction)

	require.NoError(t, f.svc.PermanentDelete(ctx, admin.ID, target.ID, testReq))
	_, err = f.store.GetUserByID(ctx, target.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// After the cascade only the audit metadata remembers who was deleted.
	logs, _, err := f.store.ListAuditLogs(ctx, storage.AuditFilter{Action: string(audit.ActionUserPermanentlyDeleted)})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, target.ID.String(), logs[0].Metadata["deletedUserId"])
	assert.Equal(t, "bob@example.com", logs[0].Metadata["deletedEmail"])
}

func TestUpdateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com")
	f.seedUser(t, "taken@example.com")

	err := f.svc.UpdateEmail(ctx, u.ID, "taken@example.com", testReq)
	assert.ErrorIs(t, err, gdpr.ErrEmailTaken)

	require.NoError(t, f.svc.UpdateEmail(ctx, u.ID, "  NEW@Example.com ", testReq))

	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
	assert.False(t, got.EmailVerified)
	assert.Equal(t, []string{"new@example.com"}, f.mailer.Verifications)

	// The stale verification token for the old address is gone.
	_, err = f.store.GetOutOfBandToken(ctx, storage.KindVerification, "verify-alice@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateEmail_DispatchFailureKeepsChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "alice@example.com")
	f.mailer.Fail = true

	f.clock.Advance(time.Minute)
	err := f.svc.UpdateEmail(ctx, u.ID, "new@example.com", testReq)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "verification dispatch failed"))

	// The address change sticks; only the mail failed.
	got, err := f.store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)

	logs, err := f.store.ListAuditLogsForUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, string(audit.ActionEmailUpdateFailed), logs[0].Action)
	assert.False(t, logs[0].Success)
}
