package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

// plainHasher keeps tests fast and deterministic. Bcrypt correctness is the
// library's problem, not ours.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// fakeMailer records dispatches; Fail makes every send error.
type fakeMailer struct {
	mu            sync.Mutex
	Fail          bool
	Verifications []string
	MagicLinks    []magicLinkMail
}

type magicLinkMail struct {
	Email     string
	Token     string
	IsNewUser bool
}

func (f *fakeMailer) SendVerification(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return errors.New("mail down")
	}
	f.Verifications = append(f.Verifications, email)
	return nil
}

func (f *fakeMailer) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return errors.New("mail down")
	}
	f.MagicLinks = append(f.MagicLinks, magicLinkMail{Email: email, Token: token, IsNewUser: isNewUser})
	return nil
}

func (f *fakeMailer) lastMagicLink(t *testing.T) magicLinkMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.MagicLinks)
	return f.MagicLinks[len(f.MagicLinks)-1]
}

type fixture struct {
	svc    *auth.Service
	store  *storage.MemoryStore
	clock  *clock.Manual
	mailer *fakeMailer
	codec  *token.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec := token.NewCodec("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, clk)
	magic := token.NewOutOfBand("oob-secret", 24*time.Hour, time.Hour, 15*time.Minute, clk)
	recorder := audit.NewDBRecorder(st, logger, clk)
	mail := &fakeMailer{}

	svc := auth.NewService(st, plainHasher{}, codec, magic, recorder, mail, logger, clk)
	return &fixture{svc: svc, store: st, clock: clk, mailer: mail, codec: codec}
}

var testReq = auth.Request{IP: "203.0.113.9", UserAgent: "Mozilla/5.0 (Macintosh) Firefox/133.0"}

// registerVerified creates a user and flips them to verified, the state most
// scenarios start from.
func (f *fixture) registerVerified(t *testing.T, email, password string) *storage.User {
	t.Helper()
	ctx := context.Background()

	u, err := f.svc.Register(ctx, email, password, storage.RoleUser, testReq)
	require.NoError(t, err)

	u.EmailVerified = true
	require.NoError(t, f.store.UpdateUser(ctx, u))
	return u
}

// auditActions lists the recorded actions for a user, oldest first.
func (f *fixture) auditActions(t *testing.T, u *storage.User) []string {
	t.Helper()
	logs, err := f.store.ListAuditLogsForUser(context.Background(), u.ID, 100)
	require.NoError(t, err)

	actions := make([]string, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		actions = append(actions, logs[i].Action)
	}
	return actions
}
