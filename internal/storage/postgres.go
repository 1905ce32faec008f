package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve pooled and transactional stores.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on top of pgx.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	q    querier
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

const serializationRetries = 3

// WithTx runs fn inside a serializable transaction, retrying on serialization
// failure (SQLSTATE 40001). Nested calls reuse the enclosing transaction.
func (p *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if p.pool == nil {
		return fn(p)
	}

	var lastErr error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		err = fn(&PostgresStore{q: tx})
		if err == nil {
			err = tx.Commit(ctx)
		}
		if err == nil {
			return nil
		}
		_ = tx.Rollback(ctx)

		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("serializable tx gave up after %d attempts: %w", serializationRetries, lastErr)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// mapUniqueViolation translates a 23505 into the domain-level sentinel for the
// violated constraint.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	if strings.Contains(pgErr.ConstraintName, "email") {
		return ErrEmailTaken
	}
	return ErrDuplicateToken
}

// --- Users ---

const userColumns = `id, email, password_hash, role, email_verified,
	failed_login_attempts, account_locked_until, token_version,
	last_login_at, last_login_ip, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified,
		&u.FailedLoginAttempts, &u.AccountLockedUntil, &u.TokenVersion,
		&u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.EmailVerified,
		u.FailedLoginAttempts, u.AccountLockedUntil, u.TokenVersion,
		u.LastLoginAt, u.LastLoginIP, u.CreatedAt, u.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(p.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (p *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(p.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE users SET
			email = $2, password_hash = $3, role = $4, email_verified = $5,
			failed_login_attempts = $6, account_locked_until = $7,
			token_version = $8, last_login_at = $9, last_login_ip = $10,
			updated_at = $11
		WHERE id = $1`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.EmailVerified,
		u.FailedLoginAttempts, u.AccountLockedUntil,
		u.TokenVersion, u.LastLoginAt, u.LastLoginIP, u.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListUsers(ctx context.Context, offset, limit int) ([]User, int64, error) {
	var total int64
	if err := p.q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.q.Query(ctx, `
		SELECT `+userColumns+` FROM users
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

func (p *PostgresStore) DeleteUsersByRole(ctx context.Context, role Role, except uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx,
		`DELETE FROM users WHERE role = $1 AND id <> $2`, role, except)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeleteAllUsersExcept(ctx context.Context, except uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM users WHERE id <> $1`, except)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Audit log ---

func (p *PostgresStore) AppendAuditLog(ctx context.Context, l *AuditLog) error {
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = p.q.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, performed_by, action, resource,
			ip_address, user_agent, metadata, success, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		l.ID, l.UserID, l.PerformedBy, l.Action, l.Resource,
		l.IPAddress, l.UserAgent, metadata, l.Success, l.ErrorMessage, l.CreatedAt,
	)
	return err
}

const auditColumns = `id, user_id, performed_by, action, resource,
	ip_address, user_agent, metadata, success, error_message, created_at`

func scanAuditLog(rows pgx.Rows) (*AuditLog, error) {
	var l AuditLog
	var metadata []byte
	err := rows.Scan(
		&l.ID, &l.UserID, &l.PerformedBy, &l.Action, &l.Resource,
		&l.IPAddress, &l.UserAgent, &metadata, &l.Success, &l.ErrorMessage, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &l.Metadata)
	}
	return &l, nil
}

func (p *PostgresStore) ListAuditLogs(ctx context.Context, f AuditFilter) ([]AuditLog, int64, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(f.Action))
	}
	if f.Success != nil {
		where = append(where, "success = "+arg(*f.Success))
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= "+arg(*f.To))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := p.q.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Page < 1 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE ` + cond +
		` ORDER BY created_at DESC OFFSET ` + arg(offset) + ` LIMIT ` + arg(f.Limit)

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		l, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, *l)
	}
	return logs, total, rows.Err()
}

func (p *PostgresStore) ListAuditLogsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]AuditLog, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	rows, err := p.q.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		l, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (p *PostgresStore) AnonymizeAuditLogsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.q.Exec(ctx, `
		UPDATE audit_logs SET
			resource = 'anonymized',
			ip_address = 'anonymized',
			user_agent = 'anonymized',
			metadata = '{"anonymized": true}'::jsonb
		WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
