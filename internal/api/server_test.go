package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/config"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/gdpr"
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

type nopMailer struct{}

func (nopMailer) SendVerification(ctx context.Context, email string) error { return nil }

func (nopMailer) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	return nil
}

type testServer struct {
	router http.Handler
	store  *storage.MemoryStore
	clock  *clock.Manual
	cfg    config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	st := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{
		Env:               "test",
		RefreshCookieName: "jid",
		InternalAPISecret: "s3cret",
	}

	codec := token.NewCodec("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, clk)
	magic := token.NewOutOfBand("oob-secret", 24*time.Hour, time.Hour, 15*time.Minute, clk)
	recorder := audit.NewDBRecorder(st, logger, clk)

	authSvc := auth.NewService(st, plainHasher{}, codec, magic, recorder, nopMailer{}, logger, clk)
	gdprSvc := gdpr.NewService(st, recorder, nopMailer{}, plainHasher{}, logger, clk)

	h := api.NewHandler(authSvc, gdprSvc, st, recorder, cfg, logger)
	return &testServer{
		router: api.NewRouter(h, func() error { return nil }),
		store:  st,
		clock:  clk,
		cfg:    cfg,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q cookie in response", name)
	return nil
}

func (ts *testServer) registerVerified(t *testing.T, email, password string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	u, err := ts.store.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	u.EmailVerified = true
	require.NoError(t, ts.store.UpdateUser(context.Background(), u))
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	rec := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	// The hash never leaves the server.
	assert.NotContains(t, rec.Body.String(), "hunter2")

	cookie := refreshCookie(t, rec, "jid")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
}

func TestLogin_WrongPasswordIsUniform(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	wrongPassword := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "not-the-password",
	})
	unknownUser := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "ghost@example.com", "password": "whatever-here",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestLogin_LockoutResponse(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	for i := 0; i < auth.MaxFailedAttempts; i++ {
		ts.do(t, http.MethodPost, "/auth/login", map[string]string{
			"email": "alice@example.com", "password": "not-the-password",
		})
	}

	rec := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusLocked, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "account locked", body["error"])
	until, err := time.Parse(time.RFC3339, body["lockedUntil"].(string))
	require.NoError(t, err)
	assert.True(t, until.Equal(ts.clock.Now().Add(auth.LockDuration)))
}

func TestRefresh_CookieRotation(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	login := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, login.Code)
	first := refreshCookie(t, login, "jid")

	ts.clock.Advance(time.Minute)
	refreshed := ts.do(t, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(first)
	})
	require.Equal(t, http.StatusOK, refreshed.Code, refreshed.Body.String())
	second := refreshCookie(t, refreshed, "jid")
	assert.NotEqual(t, first.Value, second.Value)

	// The rotated-out cookie is dead.
	replay := ts.do(t, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.AddCookie(first)
	})
	assert.Equal(t, http.StatusUnauthorized, replay.Code)

	missing := ts.do(t, http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
}

func TestAdminRoutes_RequireRole(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	anonymous := ts.do(t, http.MethodGet, "/auth/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)

	login := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, login.Code)
	accessToken := decodeBody(t, login)["accessToken"].(string)

	asUser := ts.do(t, http.MethodGet, "/auth/admin/users", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	assert.Equal(t, http.StatusForbidden, asUser.Code)
}

func TestProfile_RevokedTokenMessage(t *testing.T) {
	ts := newTestServer(t)
	ts.registerVerified(t, "alice@example.com", "hunter2hunter2")

	login := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alice@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, login.Code)
	accessToken := decodeBody(t, login)["accessToken"].(string)

	// A version bump (password reset, logout-all) revokes every issued token.
	u, err := ts.store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	u.TokenVersion++
	require.NoError(t, ts.store.UpdateUser(context.Background(), u))

	rec := ts.do(t, http.MethodGet, "/auth/profile", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// Revocation gets its own message so clients can prompt a fresh login
	// instead of a silent refresh.
	assert.Contains(t, rec.Body.String(), "Session invalidated, please log in again")
}

func TestInternalAuditLog_SecretFence(t *testing.T) {
	ts := newTestServer(t)
	event := map[string]any{"action": "RESET_EMAIL_SENT", "success": true}

	noSecret := ts.do(t, http.MethodPost, "/auth/internal/audit-log", event)
	assert.Equal(t, http.StatusForbidden, noSecret.Code)

	withSecret := ts.do(t, http.MethodPost, "/auth/internal/audit-log", event, func(r *http.Request) {
		r.Header.Set("X-Internal-Secret", "s3cret")
	})
	require.Equal(t, http.StatusCreated, withSecret.Code, withSecret.Body.String())

	logs, _, err := ts.store.ListAuditLogs(context.Background(), storage.AuditFilter{Action: "RESET_EMAIL_SENT"})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/ready", nil).Code)
}
