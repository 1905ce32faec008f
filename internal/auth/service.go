// Package auth orchestrates the authentication state machine: registration,
// credential login with lockout, refresh-token rotation, logout, session
// management, magic-link sign-in and the admin account operations.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

// Mailer dispatches account emails. The auth service never talks SMTP
// itself; in production this is an HTTP client for the email service.
type Mailer interface {
	SendVerification(ctx context.Context, email string) error
	SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error
}

// Request carries the per-request client context used for sessions and audit.
type Request struct {
	IP        string
	UserAgent string
}

// Service implements the auth-side state transitions over a shared Store.
type Service struct {
	store  storage.Store
	hasher PasswordHasher
	codec  *token.Codec
	magic  *token.OutOfBand
	audit  audit.Recorder
	mail   Mailer
	logger *slog.Logger
	clock  clock.Clock
}

func NewService(
	store storage.Store,
	hasher PasswordHasher,
	codec *token.Codec,
	magic *token.OutOfBand,
	auditRec audit.Recorder,
	mail Mailer,
	logger *slog.Logger,
	clk clock.Clock,
) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		codec:  codec,
		magic:  magic,
		audit:  auditRec,
		mail:   mail,
		logger: logger,
		clock:  clk,
	}
}

// TokenPair is the credential set returned to a freshly authenticated client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// UserSummary is the public projection of a user row.
type UserSummary struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Role          storage.Role `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func Summarize(u *storage.User) UserSummary {
	return UserSummary{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

// issueTokens signs a fresh access/refresh pair and persists the refresh
// credential as a RefreshToken row plus a Session row with device context.
func (s *Service) issueTokens(ctx context.Context, st storage.Store, u *storage.User, req Request) (*TokenPair, error) {
	access, err := s.codec.SignAccess(u)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.SignRefresh(u)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.codec.RefreshTTL())

	if err := st.CreateRefreshToken(ctx, &storage.RefreshToken{
		ID:        uuid.New(),
		UserID:    u.ID,
		Token:     refresh,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	sess := newSession(u.ID, refresh, expiresAt, now, req)
	if err := st.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// newSession derives device context from the request's user agent best-effort.
func newSession(userID uuid.UUID, refreshToken string, expiresAt, now time.Time, req Request) *storage.Session {
	sess := &storage.Session{
		ID:             uuid.New(),
		UserID:         userID,
		RefreshToken:   refreshToken,
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}
	if req.IP != "" {
		sess.IPAddress = &req.IP
	}
	if req.UserAgent != "" {
		ua := useragent.Parse(req.UserAgent)
		if ua.Name != "" {
			sess.Browser = &ua.Name
		}
		if ua.OS != "" {
			sess.OS = &ua.OS
		}
		deviceType := "desktop"
		switch {
		case ua.Mobile:
			deviceType = "mobile"
		case ua.Tablet:
			deviceType = "tablet"
		case ua.Bot:
			deviceType = "bot"
		}
		sess.DeviceType = &deviceType
		if ua.Device != "" {
			sess.DeviceName = &ua.Device
		}
	}
	return sess
}

// VerifyAccess validates a bearer token against the user's current token
// version. A version mismatch means a password reset or role change has
// invalidated every previously issued token.
func (s *Service) VerifyAccess(ctx context.Context, bearer string) (*storage.User, *token.Claims, error) {
	claims, err := s.codec.VerifyAccess(bearer)
	if err != nil {
		return nil, nil, err
	}

	u, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	if claims.TokenVersion != u.TokenVersion {
		return nil, nil, ErrTokenInvalidated
	}
	return u, claims, nil
}
