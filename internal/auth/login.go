package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Register creates a user with an unverified email and token version zero.
// The verification email is dispatched asynchronously: a mail failure is
// logged but never rolls back the registration.
func (s *Service) Register(ctx context.Context, email, password string, role storage.Role, req Request) (*storage.User, error) {
	if role == "" {
		role = storage.RoleUser
	}
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	u := &storage.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: false,
		TokenVersion:  0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &u.ID,
		Action:    audit.ActionUserRegister,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	go func() {
		if err := s.mail.SendVerification(context.WithoutCancel(ctx), u.Email); err != nil {
			s.logger.Error("verification_dispatch_failed", "email", u.Email, "error", err)
		}
	}()

	return u, nil
}

// Login runs the credential state machine inside one serializable
// transaction, so concurrent attempts observe a consistent failure counter.
// Denials leave the closure with nil so the transaction commits: the failure
// counter, the lock timestamp and the audit rows must survive the rejection.
func (s *Service) Login(ctx context.Context, email, password string, req Request) (*TokenPair, *storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := s.clock.Now()

	var (
		pair   *TokenPair
		user   *storage.User
		denied error
	)
	err := s.store.WithTx(ctx, func(st storage.Store) error {
		u, err := st.GetUserByEmail(ctx, email)
		if errors.Is(err, storage.ErrNotFound) {
			s.audit.RecordIn(ctx, st, audit.Entry{
				Action:    audit.ActionLoginFailed,
				Resource:  email,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   false,
				Error:     "user not found",
			})
			denied = ErrUserNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if !u.EmailVerified {
			s.audit.RecordIn(ctx, st, audit.Entry{
				UserID:    &u.ID,
				Action:    audit.ActionLoginFailed,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   false,
				Error:     "email not verified",
			})
			denied = ErrEmailNotVerified
			return nil
		}

		// Lock check before bcrypt: a locked account never consults the hash.
		if lockActive(u, now) {
			s.audit.RecordIn(ctx, st, audit.Entry{
				UserID:    &u.ID,
				Action:    audit.ActionLoginFailed,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   false,
				Error:     "account locked",
			})
			denied = &LockedError{Until: *u.AccountLockedUntil}
			return nil
		}
		if lockExpired(u, now) {
			clearLock(u)
			u.UpdatedAt = now
			if err := st.UpdateUser(ctx, u); err != nil {
				return err
			}
			s.audit.RecordIn(ctx, st, audit.Entry{
				UserID:    &u.ID,
				Action:    audit.ActionAccountUnlocked,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Success:   true,
			})
		}

		if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
			locked := registerFailure(u, now)
			u.UpdatedAt = now
			if err := st.UpdateUser(ctx, u); err != nil {
				return err
			}
			if locked {
				s.audit.RecordIn(ctx, st, audit.Entry{
					UserID:    &u.ID,
					Action:    audit.ActionAccountLocked,
					IPAddress: req.IP,
					UserAgent: req.UserAgent,
					Metadata:  map[string]any{"lockedUntil": u.AccountLockedUntil},
					Success:   true,
				})
				denied = &LockedError{Until: *u.AccountLockedUntil}
				return nil
			}
			s.audit.RecordIn(ctx, st, audit.Entry{
				UserID:    &u.ID,
				Action:    audit.ActionLoginFailed,
				IPAddress: req.IP,
				UserAgent: req.UserAgent,
				Metadata:  map[string]any{"failedAttempts": u.FailedLoginAttempts},
				Success:   false,
				Error:     "invalid password",
			})
			denied = ErrInvalidPassword
			return nil
		}

		clearLock(u)
		u.LastLoginAt = &now
		if req.IP != "" {
			ip := req.IP
			u.LastLoginIP = &ip
		}
		u.UpdatedAt = now
		if err := st.UpdateUser(ctx, u); err != nil {
			return err
		}

		pair, err = s.issueTokens(ctx, st, u, req)
		if err != nil {
			return fmt.Errorf("failed to issue tokens: %w", err)
		}

		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionUserLogin,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Metadata:  map[string]any{"method": "password"},
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

// Refresh rotates a refresh token: the old credential dies and exactly one
// active session remains, carrying the newly issued token.
func (s *Service) Refresh(ctx context.Context, refreshToken string, req Request) (*TokenPair, *storage.User, error) {
	now := s.clock.Now()

	var (
		pair   *TokenPair
		user   *storage.User
		denied error
	)
	err := s.store.WithTx(ctx, func(st storage.Store) error {
		row, err := st.GetRefreshToken(ctx, refreshToken)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRefreshNotFound
		}
		if err != nil {
			return err
		}

		// The cleanup must commit even though the refresh is rejected.
		if row.ExpiresAt.Before(now) {
			if err := st.DeleteRefreshToken(ctx, refreshToken); err != nil {
				return err
			}
			if err := st.DeactivateSessionByToken(ctx, refreshToken); err != nil {
				return err
			}
			denied = ErrRefreshExpired
			return nil
		}

		u, err := st.GetUserByID(ctx, row.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		claims, err := s.codec.VerifyRefresh(refreshToken)
		if err != nil || claims.TokenVersion != u.TokenVersion {
			return ErrTokenInvalidated
		}

		access, err := s.codec.SignAccess(u)
		if err != nil {
			return err
		}
		newRefresh, err := s.codec.SignRefresh(u)
		if err != nil {
			return err
		}
		expiresAt := now.Add(s.codec.RefreshTTL())

		if err := st.DeleteRefreshToken(ctx, refreshToken); err != nil {
			return err
		}
		if err := st.CreateRefreshToken(ctx, &storage.RefreshToken{
			ID:        uuid.New(),
			UserID:    u.ID,
			Token:     newRefresh,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		// The session survives rotation: its token value moves forward.
		sess, err := st.GetSessionByRefreshToken(ctx, refreshToken)
		switch {
		case err == nil:
			if err := st.UpdateSessionToken(ctx, sess.ID, newRefresh, expiresAt, now); err != nil {
				return err
			}
		case errors.Is(err, storage.ErrNotFound):
			if err := st.CreateSession(ctx, newSession(u.ID, newRefresh, expiresAt, now, req)); err != nil {
				return err
			}
		default:
			return err
		}

		s.audit.RecordIn(ctx, st, audit.Entry{
			UserID:    &u.ID,
			Action:    audit.ActionTokenRefresh,
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Success:   true,
		})

		pair = &TokenPair{AccessToken: access, RefreshToken: newRefresh, ExpiresAt: expiresAt}
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

// Logout invalidates a refresh token and its session. Idempotent: an absent
// or already-dead token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string, req Request) error {
	if refreshToken == "" {
		return nil
	}

	var userID *uuid.UUID
	if row, err := s.store.GetRefreshToken(ctx, refreshToken); err == nil {
		userID = &row.UserID
	}

	if err := s.store.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return err
	}
	if err := s.store.DeactivateSessionByToken(ctx, refreshToken); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    userID,
		Action:    audit.ActionUserLogout,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	return nil
}
