// Package emailflow implements the email-service side of the platform:
// verification, resend, password reset request and the reset itself.
package emailflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/mailer"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyVerified = errors.New("email already verified")
)

type Service struct {
	store     storage.Store
	oob       *token.OutOfBand
	hasher    auth.PasswordHasher
	sender    mailer.Sender
	audit     audit.Recorder
	logger    *slog.Logger
	clock     clock.Clock
	clientURL string
}

func NewService(
	store storage.Store,
	oob *token.OutOfBand,
	hasher auth.PasswordHasher,
	sender mailer.Sender,
	auditRec audit.Recorder,
	logger *slog.Logger,
	clk clock.Clock,
	clientURL string,
) *Service {
	return &Service{
		store:     store,
		oob:       oob,
		hasher:    hasher,
		sender:    sender,
		audit:     auditRec,
		logger:    logger,
		clock:     clk,
		clientURL: strings.TrimRight(clientURL, "/"),
	}
}

// SendVerification mints a verification token for the address and mails the
// confirmation link.
func (s *Service) SendVerification(ctx context.Context, email string, req auth.Request) error {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	row, err := s.oob.Mint(ctx, s.store, u.ID, storage.KindVerification)
	if err != nil {
		return fmt.Errorf("failed to mint verification token: %w", err)
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.clientURL, row.Token)
	if err := s.sender.SendVerification(ctx, u.Email, link); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &u.ID,
		Action:    audit.ActionVerificationEmailSent,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	return nil
}

// VerifyEmail spends a verification token and flips the user to verified.
// The token is one-shot either way: a structurally valid token for an
// already-verified account is consumed and reported as a conflict. Denials
// commit, so the token spend and Consume's expired-row cleanup persist.
func (s *Service) VerifyEmail(ctx context.Context, tokenString string, req auth.Request) error {
	now := s.clock.Now()

	var denied error
	err := s.store.WithTx(ctx, func(st storage.Store) error {
		row, err := s.oob.Consume(ctx, st, storage.KindVerification, tokenString, nil, nil)
		if err != nil {
			if !token.IsOOBDenial(err) {
				return err
			}
			denied = err
			return nil
		}

		u, err := st.GetUserByID(ctx, row.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if u.EmailVerified {
			denied = ErrAlreadyVerified
			return nil
		}

		u.EmailVerified = true
		u.UpdatedAt = now
		if err := st.UpdateUser(ctx, u); err != nil {
			return err
		}

		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionEmailVerified,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Success:   true,
		})
		return nil
	})
	if err != nil {
		return err
	}
	return denied
}

// ResendVerification re-issues the verification mail for an existing,
// still-unverified account. Minting invalidates any earlier token.
func (s *Service) ResendVerification(ctx context.Context, email string, req auth.Request) error {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}
	return s.SendVerification(ctx, email, req)
}

// SendPasswordReset mails a reset link. An unknown address returns success
// so the endpoint cannot be used to enumerate accounts.
func (s *Service) SendPasswordReset(ctx context.Context, email string, req auth.Request) error {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("password_reset_unknown_email", "email", email)
		return nil
	}
	if err != nil {
		return err
	}

	row, err := s.oob.Mint(ctx, s.store, u.ID, storage.KindPasswordReset)
	if err != nil {
		return fmt.Errorf("failed to mint reset token: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &u.ID,
		Action:    audit.ActionPasswordResetRequested,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	link := fmt.Sprintf("%s/reset-password?token=%s", s.clientURL, row.Token)
	if err := s.sender.SendPasswordReset(ctx, u.Email, link); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:  &u.ID,
		Action:  audit.ActionResetEmailSent,
		Success: true,
	})
	return nil
}

// ResetResult reports what the reset terminated alongside the password
// change itself.
type ResetResult struct {
	SessionsTerminated int64
}

// ResetPassword spends a reset token and applies the new password. In the
// same transaction the token version advances by one, which kills every
// access and refresh token ever issued, and all sessions are terminated.
func (s *Service) ResetPassword(ctx context.Context, tokenString, newPassword string, req auth.Request) (*ResetResult, error) {
	now := s.clock.Now()

	var ip, ua *string
	if req.IP != "" {
		ip = &req.IP
	}
	if req.UserAgent != "" {
		ua = &req.UserAgent
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	result := &ResetResult{}
	var denied error
	err = s.store.WithTx(ctx, func(st storage.Store) error {
		row, err := s.oob.Consume(ctx, st, storage.KindPasswordReset, tokenString, ip, ua)
		if err != nil {
			if !token.IsOOBDenial(err) {
				return err
			}
			// Commit so Consume's expired-row cleanup persists.
			denied = err
			return nil
		}

		u, err := st.GetUserByID(ctx, row.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		u.PasswordHash = hash
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
		u.TokenVersion++ // the epoch bump: every issued JWT dies here
		u.UpdatedAt = now
		if err := st.UpdateUser(ctx, u); err != nil {
			return err
		}

		if _, err := st.DeleteRefreshTokensForUser(ctx, u.ID); err != nil {
			return err
		}
		count, err := st.DeactivateSessionsForUser(ctx, u.ID)
		if err != nil {
			return err
		}
		result.SessionsTerminated = count

		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionPasswordResetCompleted,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Metadata:  map[string]any{"sessionsTerminated": count},
			Success:   true,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return nil, denied
	}
	return result, nil
}

// MagicLinkMail renders and dispatches the magic-link sign-in mail on behalf
// of the auth service, which minted the token.
func (s *Service) MagicLinkMail(ctx context.Context, email, tokenString string, isNewUser bool) error {
	link := fmt.Sprintf("%s/magic-login?token=%s", s.clientURL, tokenString)
	return s.sender.SendMagicLink(ctx, email, link, isNewUser)
}
