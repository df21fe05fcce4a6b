package intent

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// SweepResult reports what a sweep changed.
type SweepResult struct {
	Deleted int64
	Expired int64
}

// Sweeper expires stale intents. Intents without an outstanding payment are
// deleted; pending intents holding a payment are flagged for manual
// reconciliation instead.
type Sweeper struct {
	repo Repository
	now  func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(repo Repository) *Sweeper {
	return &Sweeper{repo: repo, now: time.Now}
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := s.now()

	expired, err := s.repo.MarkExpired(ctx, cutoff)
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "mark paid intents expired")
	}
	deleted, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return SweepResult{Expired: expired}, errors.Wrap(err, "delete expired intents")
	}
	return SweepResult{Deleted: deleted, Expired: expired}, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	lg := zctx.From(ctx)
	lg.Info("Intent sweeper started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				lg.Error("Intent sweep failed", zap.Error(err))
				continue
			}
			if res.Expired > 0 {
				lg.Warn("Paid intents expired without an order",
					zap.Int64("count", res.Expired),
				)
			}
			if res.Deleted > 0 {
				lg.Debug("Expired intents removed", zap.Int64("count", res.Deleted))
			}
		}
	}
}
