package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Recorder persists audit entries. Recording must never fail the business
// operation it describes: implementations swallow and log their own errors.
type Recorder interface {
	// Record writes an entry through the default store.
	Record(ctx context.Context, e Entry)
	// RecordIn writes an entry through the given store, so callers can place
	// the audit row inside the same transaction as the state change it logs.
	RecordIn(ctx context.Context, st storage.Store, e Entry)
}

// DBRecorder writes audit rows to the shared database.
type DBRecorder struct {
	store  storage.Store
	logger *slog.Logger
	clock  clock.Clock
}

var _ Recorder = (*DBRecorder)(nil)

func NewDBRecorder(store storage.Store, logger *slog.Logger, clk clock.Clock) *DBRecorder {
	return &DBRecorder{store: store, logger: logger, clock: clk}
}

func (r *DBRecorder) Record(ctx context.Context, e Entry) {
	r.RecordIn(ctx, r.store, e)
}

func (r *DBRecorder) RecordIn(ctx context.Context, st storage.Store, e Entry) {
	row := Materialize(e, r.clock.Now())
	if err := st.AppendAuditLog(ctx, row); err != nil {
		r.logger.Error("audit_append_failed",
			"action", string(e.Action),
			"error", err,
		)
	}
}

// Materialize turns an entry into a persistable row. A zero At takes now.
func Materialize(e Entry, now time.Time) *storage.AuditLog {
	row := &storage.AuditLog{
		ID:          uuid.New(),
		UserID:      e.UserID,
		PerformedBy: e.PerformedBy,
		Action:      string(e.Action),
		Metadata:    e.Metadata,
		Success:     e.Success,
		CreatedAt:   e.At,
	}
	if e.Resource != "" {
		row.Resource = &e.Resource
	}
	if e.IPAddress != "" {
		row.IPAddress = &e.IPAddress
	}
	if e.UserAgent != "" {
		row.UserAgent = &e.UserAgent
	}
	if e.Error != "" {
		row.ErrorMessage = &e.Error
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	return row
}

// NopRecorder discards everything. Used in tests that do not assert on the
// audit trail.
type NopRecorder struct{}

var _ Recorder = (*NopRecorder)(nil)

func (NopRecorder) Record(ctx context.Context, e Entry)                            {}
func (NopRecorder) RecordIn(ctx context.Context, st storage.Store, e Entry)        {}
