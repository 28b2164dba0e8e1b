// Package pipeline drains due proxies into a bounded pool of probe workers
// and commits the outcomes back to the store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"proxy-pool/pkg/models"
)

// commitTimeout bounds the detached store writes that resolve a claim
// after the pipeline context is already cancelled.
const commitTimeout = 10 * time.Second

// Store is the subset of store operations the pipeline needs. Claim and
// the commits must be atomic at the backend so concurrent pipelines (or a
// restarted instance) observe the checking flag consistently.
type Store interface {
	ResetChecking(ctx context.Context) (int64, error)
	FindDue(ctx context.Context, checkInterval time.Duration, failLimit, limit int) ([]models.Proxy, error)
	ClaimProxy(ctx context.Context, id string) (bool, error)
	ReleaseProxy(ctx context.Context, id string) error
	CommitSuccess(ctx context.Context, id string, httpRes, httpsRes models.ProtocolResult) error
	CommitFailure(ctx context.Context, id string, failLimit int) (bool, error)
}

// Prober performs the actual reachability probes.
type Prober interface {
	Probe(ctx context.Context, proxy *models.Proxy, timeout time.Duration) (httpRes, httpsRes models.ProtocolResult)
}

type Options struct {
	CheckInterval time.Duration // staleness threshold for the due scan
	CheckTimeout  time.Duration // per-probe timeout
	Concurrency   int           // workers and queue capacity
	FailLimit     int
	IdleWait      time.Duration // pause after a scan that submitted nothing
	ErrorBackoff  time.Duration // pause after a store error
}

type Pipeline struct {
	store  Store
	prober Prober
	opts   Options
	logger *slog.Logger

	// onFirstSuccess runs after a proxy's first successful cycle commits.
	onFirstSuccess func(ctx context.Context, proxy *models.Proxy)
}

func New(store Store, prober Prober, opts Options, logger *slog.Logger) *Pipeline {
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	return &Pipeline{
		store:  store,
		prober: prober,
		opts:   opts,
		logger: logger,
	}
}

// OnFirstSuccess registers a hook invoked after a proxy commits its first
// successful cycle. The hook must not block for long; it runs on the
// worker goroutine.
func (p *Pipeline) OnFirstSuccess(fn func(ctx context.Context, proxy *models.Proxy)) {
	p.onFirstSuccess = fn
}

// Run executes the pipeline until ctx is cancelled. Before producing, any
// claims dangling from a previous crash are reset. On shutdown the
// producer stops claiming, in-flight probes abort via ctx, and Run waits
// for every worker to resolve its claim before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	reset, err := p.store.ResetChecking(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset checking flags: %v", err)
	}
	p.logger.Info("Reset dangling proxy claims", "count", reset)

	queue := make(chan models.Proxy, p.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, queue)
		}()
	}

	p.produce(ctx, queue)

	close(queue)
	wg.Wait()
	return nil
}

func (p *Pipeline) produce(ctx context.Context, queue chan<- models.Proxy) {
	batch := p.opts.Concurrency * 2

	for ctx.Err() == nil {
		due, err := p.store.FindDue(ctx, p.opts.CheckInterval, p.opts.FailLimit, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Failed to query due proxies", "error", err)
			if !sleepCtx(ctx, p.opts.ErrorBackoff) {
				return
			}
			continue
		}

		submitted := 0
		for i := range due {
			if ctx.Err() != nil {
				return
			}
			proxy := due[i]

			claimed, err := p.store.ClaimProxy(ctx, proxy.ID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("Failed to claim proxy", "id", proxy.ID, "error", err)
				continue
			}
			if !claimed {
				// Lost the race to another worker or instance.
				continue
			}

			select {
			case queue <- proxy:
				submitted++
			case <-ctx.Done():
				// Shutdown while blocked on backpressure: hand the
				// claim back so no record stays checking.
				p.release(proxy.ID)
				return
			}
		}

		if submitted == 0 {
			if !sleepCtx(ctx, p.opts.IdleWait) {
				return
			}
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, queue <-chan models.Proxy) {
	for proxy := range queue {
		p.process(ctx, &proxy)
	}
}

func (p *Pipeline) process(ctx context.Context, proxy *models.Proxy) {
	p.logger.Debug("Checking proxy", "proxy", proxy.URL())

	httpRes, httpsRes := p.prober.Probe(ctx, proxy, p.opts.CheckTimeout)

	// Commits run on a detached context so a shutdown mid-probe still
	// resolves the claim before Run returns.
	commitCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if httpRes.Status || httpsRes.Status {
		if err := p.store.CommitSuccess(commitCtx, proxy.ID, httpRes, httpsRes); err != nil {
			p.logger.Error("Failed to commit probe success", "id", proxy.ID, "error", err)
			p.release(proxy.ID)
			return
		}
		p.logger.Info("Validated proxy",
			"source", proxy.Source,
			"proxy", proxy.URL(),
			"httpLatency", httpRes.Latency,
			"httpsLatency", httpsRes.Latency)

		if p.onFirstSuccess != nil && proxy.CheckSuccessCount == 0 {
			p.onFirstSuccess(commitCtx, proxy)
		}
		return
	}

	if ctx.Err() != nil {
		// The probe was aborted by shutdown; the cycle never completed,
		// so release instead of recording a spurious failure.
		p.release(proxy.ID)
		return
	}

	evicted, err := p.store.CommitFailure(commitCtx, proxy.ID, p.opts.FailLimit)
	if err != nil {
		p.logger.Error("Failed to commit probe failure", "id", proxy.ID, "error", err)
		p.release(proxy.ID)
		return
	}
	if evicted {
		p.logger.Info("Removed proxy after exhausted failure budget",
			"source", proxy.Source, "proxy", proxy.URL())
	}
}

func (p *Pipeline) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := p.store.ReleaseProxy(ctx, id); err != nil {
		p.logger.Error("Failed to release proxy claim", "id", id, "error", err)
	}
}

// sleepCtx waits for d and reports false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
