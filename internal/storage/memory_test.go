package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func seedUser(t *testing.T, st *storage.MemoryStore) *storage.User {
	t.Helper()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	u := &storage.User{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		PasswordHash: "x",
		Role:         storage.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

// WithTx must behave like the Postgres store: an error from the closure
// discards every write made inside it.
func TestMemoryStore_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	u := seedUser(t, st)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx storage.Store) error {
		mutated, err := tx.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		mutated.FailedLoginAttempts = 3
		require.NoError(t, tx.UpdateUser(ctx, mutated))

		require.NoError(t, tx.AppendAuditLog(ctx, &storage.AuditLog{
			ID: uuid.New(), UserID: &u.ID, Action: "LOGIN_FAILED", CreatedAt: u.CreatedAt,
		}))
		require.NoError(t, tx.CreateRefreshToken(ctx, &storage.RefreshToken{
			ID: uuid.New(), UserID: u.ID, Token: "doomed",
			ExpiresAt: u.CreatedAt.Add(time.Hour), CreatedAt: u.CreatedAt,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)

	logs, err := st.ListAuditLogsForUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = st.GetRefreshToken(ctx, "doomed")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_WithTxCommitsOnNil(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	u := seedUser(t, st)

	err := st.WithTx(ctx, func(tx storage.Store) error {
		mutated, err := tx.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		mutated.FailedLoginAttempts = 2
		return tx.UpdateUser(ctx, mutated)
	})
	require.NoError(t, err)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedLoginAttempts)
}

func TestSweepExpiredOutOfBandTokens_IncludesUsedRows(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	u := seedUser(t, st)
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	usedAt := now.Add(-2 * time.Hour)
	require.NoError(t, st.CreateOutOfBandToken(ctx, &storage.OutOfBandToken{
		ID: uuid.New(), Kind: storage.KindPasswordReset, Token: "spent-and-expired",
		UserID: u.ID, Used: true, UsedAt: &usedAt,
		ExpiresAt: now.Add(-time.Hour), CreatedAt: usedAt,
	}))

	n, err := st.SweepExpiredOutOfBandTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetOutOfBandToken(ctx, storage.KindPasswordReset, "spent-and-expired")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
