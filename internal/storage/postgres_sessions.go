package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, user_id, refresh_token, device_name, device_type,
	browser, os, ip_address, country, city, is_active,
	last_activity_at, created_at, expires_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.RefreshToken, &s.DeviceName, &s.DeviceType,
		&s.Browser, &s.OS, &s.IPAddress, &s.Country, &s.City, &s.IsActive,
		&s.LastActivityAt, &s.CreatedAt, &s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		s.ID, s.UserID, s.RefreshToken, s.DeviceName, s.DeviceType,
		s.Browser, s.OS, s.IPAddress, s.Country, s.City, s.IsActive,
		s.LastActivityAt, s.CreatedAt, s.ExpiresAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(p.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (p *PostgresStore) GetSessionByRefreshToken(ctx context.Context, token string) (*Session, error) {
	return scanSession(p.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = $1`, token))
}

func (p *PostgresStore) ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at >= $2
		ORDER BY last_activity_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (p *PostgresStore) ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := p.q.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (p *PostgresStore) UpdateSessionToken(ctx context.Context, id uuid.UUID, token string, expiresAt, lastActivity time.Time) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE sessions SET refresh_token = $2, expires_at = $3, last_activity_at = $4
		WHERE id = $1 AND is_active`, id, token, expiresAt, lastActivity)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE sessions SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeactivateSessionByToken(ctx context.Context, token string) error {
	// Idempotent on purpose: logout with an unknown token is a no-op.
	_, err := p.q.Exec(ctx,
		`UPDATE sessions SET is_active = false WHERE refresh_token = $1`, token)
	return err
}

func (p *PostgresStore) DeactivateSessionsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx,
		`UPDATE sessions SET is_active = false WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	tag, err := p.q.Exec(ctx, `
		UPDATE sessions SET is_active = false
		WHERE user_id = $1 AND is_active AND refresh_token <> $2`, userID, keepToken)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
