package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Refresh tokens ---

func (p *PostgresStore) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.Token, t.ExpiresAt, t.CreatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := p.q.QueryRow(ctx, `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := p.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return err
}

func (p *PostgresStore) DeleteRefreshTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	tag, err := p.q.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token <> $2`, userID, keepToken)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *PostgresStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Out-of-band tokens ---

const oobColumns = `id, kind, token, user_id, expires_at, created_at,
	used, used_at, ip_address, user_agent`

func scanOutOfBandToken(row pgx.Row) (*OutOfBandToken, error) {
	var t OutOfBandToken
	err := row.Scan(
		&t.ID, &t.Kind, &t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt,
		&t.Used, &t.UsedAt, &t.IPAddress, &t.UserAgent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) CreateOutOfBandToken(ctx context.Context, t *OutOfBandToken) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO out_of_band_tokens (`+oobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Kind, t.Token, t.UserID, t.ExpiresAt, t.CreatedAt,
		t.Used, t.UsedAt, t.IPAddress, t.UserAgent,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) GetOutOfBandToken(ctx context.Context, kind TokenKind, token string) (*OutOfBandToken, error) {
	return scanOutOfBandToken(p.q.QueryRow(ctx,
		`SELECT `+oobColumns+` FROM out_of_band_tokens WHERE kind = $1 AND token = $2`,
		kind, token))
}

func (p *PostgresStore) MarkOutOfBandTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent *string) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE out_of_band_tokens
		SET used = true, used_at = $2, ip_address = $3, user_agent = $4
		WHERE id = $1 AND NOT used`, id, usedAt, ip, userAgent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteOutOfBandToken(ctx context.Context, id uuid.UUID) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM out_of_band_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteUnusedOutOfBandTokens(ctx context.Context, userID uuid.UUID, kind TokenKind) (int64, error) {
	tag, err := p.q.Exec(ctx, `
		DELETE FROM out_of_band_tokens
		WHERE user_id = $1 AND kind = $2 AND NOT used`, userID, kind)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeleteOutOfBandTokensForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SweepExpiredOutOfBandTokens removes every expired row, used or not; a spent
// reset token past its expiry has no audit value left.
func (p *PostgresStore) SweepExpiredOutOfBandTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx,
		`DELETE FROM out_of_band_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) SweepUsedMagicLinkTokens(ctx context.Context, usedBefore time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx, `
		DELETE FROM out_of_band_tokens
		WHERE kind = $1 AND used AND used_at < $2`, KindMagicLink, usedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
