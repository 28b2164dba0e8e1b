// Package ingest pulls candidate proxies from the configured sources
// whenever the pool of available proxies runs low.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"proxy-pool/pkg/models"
	"proxy-pool/pkg/source"
)

// Store is the subset of store operations the ingestion loop needs.
type Store interface {
	CountAvailable(ctx context.Context, filter models.Filter) (int, error)
	CountChecking(ctx context.Context) (int, error)
	CountDue(ctx context.Context, checkInterval time.Duration, failLimit int) (int, error)
	CountTotal(ctx context.Context) (int, error)
	InsertProxyIfAbsent(ctx context.Context, proxy *models.Proxy) (bool, error)
}

type Options struct {
	Interval      time.Duration // cycle period
	TriggerCount  int           // fetch when available drops below this
	FailLimit     int
	CheckInterval time.Duration // only used for the due-count snapshot
}

type Loop struct {
	store   Store
	sources []source.Source
	opts    Options
	logger  *slog.Logger
}

func New(store Store, sources []source.Source, opts Options, logger *slog.Logger) *Loop {
	return &Loop{
		store:   store,
		sources: sources,
		opts:    opts,
		logger:  logger,
	}
}

// Run executes fetch cycles until ctx is cancelled. Every operation in a
// cycle is idempotent, so aborting mid-cycle is safe.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		l.cycle(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	available, err := l.store.CountAvailable(ctx, models.DefaultFilter(l.opts.FailLimit))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// An unreachable store must not read as an empty pool, or every
		// hiccup would trigger a fetch storm. Skip the cycle instead.
		l.logger.Warn("Skipping fetch cycle, store unavailable", "error", err)
		return
	}

	if available < l.opts.TriggerCount {
		l.logger.Info("Fetching new proxies", "available", available, "trigger", l.opts.TriggerCount)
		l.fetchAll(ctx)
	}

	l.logStatus(ctx, available)
}

func (l *Loop) fetchAll(ctx context.Context) {
	// Deduplicate across the whole batch; duplicates are expected between
	// sources and against existing records, never errors.
	seen := make(map[string]struct{})

	for _, src := range l.sources {
		if ctx.Err() != nil {
			return
		}

		candidates, err := src.FetchProxy(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("Source fetch failed", "source", src.Name(), "error", err)
			continue
		}

		inserted := 0
		for i := range candidates {
			candidate := candidates[i]

			key := candidate.Endpoint()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ok, err := l.store.InsertProxyIfAbsent(ctx, &candidate)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("Failed to insert proxy", "source", src.Name(), "proxy", candidate.URL(), "error", err)
				continue
			}
			if ok {
				inserted++
				l.logger.Debug("Found proxy", "source", src.Name(), "proxy", candidate.URL())
			}
		}

		l.logger.Info("Fetched proxies",
			"source", src.Name(), "found", len(candidates), "new", inserted)
	}
}

// logStatus emits the post-cycle pool snapshot. Count failures here only
// degrade observability, so they are logged at debug and ignored.
func (l *Loop) logStatus(ctx context.Context, available int) {
	httpsFilter := models.DefaultFilter(l.opts.FailLimit)
	httpsFilter.OnlyHTTPS = true

	httpsAvailable, err := l.store.CountAvailable(ctx, httpsFilter)
	if err != nil {
		l.logger.Debug("Status snapshot unavailable", "error", err)
		return
	}
	checking, err := l.store.CountChecking(ctx)
	if err != nil {
		l.logger.Debug("Status snapshot unavailable", "error", err)
		return
	}
	due, err := l.store.CountDue(ctx, l.opts.CheckInterval, l.opts.FailLimit)
	if err != nil {
		l.logger.Debug("Status snapshot unavailable", "error", err)
		return
	}
	total, err := l.store.CountTotal(ctx)
	if err != nil {
		l.logger.Debug("Status snapshot unavailable", "error", err)
		return
	}

	l.logger.Info("Pool status",
		"available", available,
		"https", httpsAvailable,
		"checking", checking,
		"due", due,
		"total", total)
}
