package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// SessionInfo is the client-facing projection of a session. The raw refresh
// token never leaves the server; Current marks the session the caller is on.
type SessionInfo struct {
	ID             uuid.UUID `json:"id"`
	DeviceName     *string   `json:"deviceName,omitempty"`
	DeviceType     *string   `json:"deviceType,omitempty"`
	Browser        *string   `json:"browser,omitempty"`
	OS             *string   `json:"os,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	Country        *string   `json:"country,omitempty"`
	City           *string   `json:"city,omitempty"`
	Current        bool      `json:"current"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ListSessions returns the user's live sessions newest-activity first.
// currentRefreshToken identifies which entry is the caller's own.
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID, currentRefreshToken string) ([]SessionInfo, error) {
	sessions, err := s.store.ListActiveSessions(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:             sess.ID,
			DeviceName:     sess.DeviceName,
			DeviceType:     sess.DeviceType,
			Browser:        sess.Browser,
			OS:             sess.OS,
			IPAddress:      sess.IPAddress,
			Country:        sess.Country,
			City:           sess.City,
			Current:        currentRefreshToken != "" && sess.RefreshToken == currentRefreshToken,
			LastActivityAt: sess.LastActivityAt,
			CreatedAt:      sess.CreatedAt,
			ExpiresAt:      sess.ExpiresAt,
		})
	}
	return out, nil
}

// RevokeSession kills one session the caller owns. A session that exists but
// belongs to someone else reads as not found, so existence is never disclosed.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, req Request) error {
	sess, err := s.store.GetSessionByID(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}

	if err := s.store.DeleteRefreshToken(ctx, sess.RefreshToken); err != nil {
		return err
	}
	if err := s.store.DeactivateSession(ctx, sess.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionSessionRevoked,
		Resource:  sess.ID.String(),
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	return nil
}

// RevokeOtherSessions ends every session except the one holding
// currentRefreshToken. Returns how many were terminated.
func (s *Service) RevokeOtherSessions(ctx context.Context, userID uuid.UUID, currentRefreshToken string, req Request) (int64, error) {
	if _, err := s.store.DeleteOtherRefreshTokens(ctx, userID, currentRefreshToken); err != nil {
		return 0, err
	}
	count, err := s.store.DeactivateOtherSessions(ctx, userID, currentRefreshToken)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionLogoutOtherDevices,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{"revokedCount": count},
		Success:   true,
	})
	return count, nil
}

// RevokeAllSessions ends every session and refresh token for the user.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID, req Request) (int64, error) {
	if _, err := s.store.DeleteRefreshTokensForUser(ctx, userID); err != nil {
		return 0, err
	}
	count, err := s.store.DeactivateSessionsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionLogoutAllDevices,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{"revokedCount": count},
		Success:   true,
	})
	return count, nil
}
