package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/token"
)

// RequestMagicLink mints a one-shot sign-in link and mails it. An unknown
// email silently becomes a new account, so the response is uniform either
// way and reveals nothing about account existence.
func (s *Service) RequestMagicLink(ctx context.Context, email string, req Request) error {
	email = strings.ToLower(strings.TrimSpace(email))
	now := s.clock.Now()

	u, err := s.store.GetUserByEmail(ctx, email)
	isNewUser := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Silent signup. The user never learns this password; the only way
		// in is the link itself.
		randomPassword, err := GenerateSecureToken(32)
		if err != nil {
			return err
		}
		hash, err := s.hasher.Hash(randomPassword)
		if err != nil {
			return err
		}
		u = &storage.User{
			ID:            uuid.New(),
			Email:         email,
			PasswordHash:  hash,
			Role:          storage.RoleUser,
			EmailVerified: false,
			TokenVersion:  0,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.CreateUser(ctx, u); err != nil {
			return err
		}
		isNewUser = true
		s.audit.Record(ctx, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionUserRegister,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Metadata:  map[string]any{"method": "magic_link"},
			Success:   true,
		})
	case err != nil:
		return err
	}

	if lockActive(u, now) {
		s.audit.Record(ctx, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionMagicLinkFailed,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Success:   false,
			Error:     "account locked",
		})
		return &LockedError{Until: *u.AccountLockedUntil}
	}

	row, err := s.magic.Mint(ctx, s.store, u.ID, storage.KindMagicLink)
	if err != nil {
		return fmt.Errorf("failed to mint magic link: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &u.ID,
		Action:    audit.ActionMagicLinkRequested,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{"isNewUser": isNewUser},
		Success:   true,
	})

	if err := s.mail.SendMagicLink(ctx, u.Email, row.Token, isNewUser); err != nil {
		return fmt.Errorf("failed to dispatch magic link: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:  &u.ID,
		Action:  audit.ActionMagicLinkSent,
		Success: true,
	})
	return nil
}

// RedeemMagicLink spends a magic-link token. Redemption proves control of
// the mailbox, so it verifies the email as a side effect and logs the
// holder in.
func (s *Service) RedeemMagicLink(ctx context.Context, tokenString string, req Request) (*TokenPair, *storage.User, error) {
	now := s.clock.Now()

	var ip, ua *string
	if req.IP != "" {
		ip = &req.IP
	}
	if req.UserAgent != "" {
		ua = &req.UserAgent
	}

	var (
		pair   *TokenPair
		user   *storage.User
		denied error
	)
	err := s.store.WithTx(ctx, func(st storage.Store) error {
		row, err := s.magic.Consume(ctx, st, storage.KindMagicLink, tokenString, ip, ua)
		if err != nil {
			if !token.IsOOBDenial(err) {
				return err
			}
			// Commit: the failure audit row, and the expired-row cleanup
			// Consume may have done, must survive the rejection.
			s.audit.RecordIn(ctx, st, audit.Entry{
				Action:    audit.ActionMagicLinkFailed,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   false,
				Error:     err.Error(),
			})
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

		if lockActive(u, now) {
			// The token still spends: presenting it to a locked account
			// burns the one shot.
			s.audit.RecordIn(ctx, st, audit.Entry{
				UserID:    &u.ID,
				Action:    audit.ActionMagicLinkFailed,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   false,
				Error:     "account locked",
			})
			denied = &LockedError{Until: *u.AccountLockedUntil}
			return nil
		}

		// Possession of the link proves ownership of the mailbox.
		u.EmailVerified = true
		clearLock(u)
		u.LastLoginAt = &now
		u.LastLoginIP = ip
		u.UpdatedAt = now
		if err := st.UpdateUser(ctx, u); err != nil {
			return err
		}

		pair, err = s.issueTokens(ctx, st, u, req)
		if err != nil {
			return err
		}

		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionMagicLinkLogin,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Success:   true,
		})
		user = u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if denied != nil {
		return nil, nil, denied
	}
	return pair, user, nil
}
