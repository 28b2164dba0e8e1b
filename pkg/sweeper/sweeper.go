// Package sweeper removes proxies that outlived their TTL after exhausting
// the failure budget. It is the safety net for records the validation
// pipeline stopped picking up; age alone never deletes anything.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Store is the subset of store operations the sweeper needs.
type Store interface {
	SweepExpired(ctx context.Context, ttl time.Duration, failLimit int) (int64, error)
}

type Options struct {
	Interval  time.Duration
	TTL       time.Duration
	FailLimit int
}

type Sweeper struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

func New(store Store, opts Options, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, opts: opts, logger: logger}
}

// Run sweeps on a fixed interval until ctx is cancelled. Deletion is
// idempotent, so aborting mid-sweep is safe.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx, s.opts.TTL, s.opts.FailLimit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Sweep failed, will retry next interval", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Removed outdated proxies", "count", removed)
	}
}
