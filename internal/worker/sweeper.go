// Package worker contains the janitor that removes expired rows on a timer.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/clock"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// magicLinkUsedRetention is how long a consumed magic-link row is kept for
// audit correlation before the sweeper removes it.
const magicLinkUsedRetention = 7 * 24 * time.Hour

// Sweeper deletes rows that have outlived their purpose: expired sessions and
// refresh tokens, expired unused out-of-band tokens, consumed magic links past
// their retention window, and audit logs past the configured retention.
type Sweeper struct {
	store          storage.Store
	logger         *slog.Logger
	clock          clock.Clock
	auditRetention time.Duration
}

func NewSweeper(store storage.Store, logger *slog.Logger, clk clock.Clock, auditRetentionDays int) *Sweeper {
	return &Sweeper{
		store:          store,
		logger:         logger,
		clock:          clk,
		auditRetention: time.Duration(auditRetentionDays) * 24 * time.Hour,
	}
}

// RunOnce executes a single cleanup cycle. Each step is independent; a failure
// in one is logged and the rest still run.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.clock.Now()
	s.logger.Info("sweep_cycle_started")

	s.step(ctx, "refresh_tokens", func(ctx context.Context) (int64, error) {
		return s.store.DeleteExpiredRefreshTokens(ctx, now)
	})
	s.step(ctx, "sessions", func(ctx context.Context) (int64, error) {
		return s.store.DeleteExpiredSessions(ctx, now)
	})
	s.step(ctx, "out_of_band_tokens", func(ctx context.Context) (int64, error) {
		return s.store.SweepExpiredOutOfBandTokens(ctx, now)
	})
	s.step(ctx, "used_magic_links", func(ctx context.Context) (int64, error) {
		return s.store.SweepUsedMagicLinkTokens(ctx, now.Add(-magicLinkUsedRetention))
	})

	if s.auditRetention > 0 {
		s.step(ctx, "audit_logs", func(ctx context.Context) (int64, error) {
			return s.store.DeleteAuditLogsBefore(ctx, now.Add(-s.auditRetention))
		})
	}

	s.logger.Info("sweep_cycle_completed")
}

// Run blocks, sweeping once immediately and then on every tick until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) step(ctx context.Context, target string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		s.logger.Error("sweep_step_failed", "target", target, "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("sweep_step_completed", "target", target, "deleted", count)
	}
}
