package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

func TestMaterialize(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	row := audit.Materialize(audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionUserLogin,
		IPAddress: "203.0.113.9",
		UserAgent: "Mozilla/5.0",
		Success:   true,
	}, now)

	assert.NotEqual(t, uuid.Nil, row.ID)
	assert.Equal(t, &userID, row.UserID)
	assert.Equal(t, "USER_LOGIN", row.Action)
	require.NotNil(t, row.IPAddress)
	assert.Equal(t, "203.0.113.9", *row.IPAddress)
	// Zero At takes the recorder's now.
	assert.Equal(t, now, row.CreatedAt)

	// Empty strings become NULL columns, not empty ones.
	bare := audit.Materialize(audit.Entry{Action: audit.ActionUserLogout}, now)
	assert.Nil(t, bare.UserID)
	assert.Nil(t, bare.Resource)
	assert.Nil(t, bare.IPAddress)
	assert.Nil(t, bare.UserAgent)
	assert.Nil(t, bare.ErrorMessage)
}

func TestMaterialize_ExplicitTimestampWins(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Hour)

	row := audit.Materialize(audit.Entry{Action: audit.ActionUserLogin, At: at}, now)
	assert.Equal(t, at, row.CreatedAt)
}

func TestDBRecorder_Record(t *testing.T) {
	st := storage.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := audit.NewDBRecorder(st, logger, clk)

	userID := uuid.New()
	rec.Record(context.Background(), audit.Entry{
		UserID:  &userID,
		Action:  audit.ActionUserRegister,
		Success: true,
	})

	logs, err := st.ListAuditLogsForUser(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "USER_REGISTER", logs[0].Action)
	assert.Equal(t, clk.Now(), logs[0].CreatedAt)
}

// failingStore breaks AppendAuditLog to prove recording never surfaces the
// failure to the caller.
type failingStore struct {
	storage.Store
}

func (failingStore) AppendAuditLog(ctx context.Context, l *storage.AuditLog) error {
	return errors.New("database gone")
}

func TestDBRecorder_AppendFailureIsSwallowed(t *testing.T) {
	st := failingStore{Store: storage.NewMemoryStore()}
	clk := clock.NewManual(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := audit.NewDBRecorder(st, logger, clk)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), audit.Entry{Action: audit.ActionUserLogin})
	})
}
