package hashrouter

import (
	"context"
	"sync"
	"time"

	"go-hashrouter/metrics"
)

// Sweeper periodically health-checks every registered server and evicts the
// dead ones, so failures are noticed even on servers no request has hit yet.
// Evicted servers only come back through an explicit add.
type Sweeper struct {
	membership *Membership
	checker    HealthChecker
	interval   time.Duration
	options    options
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewSweeper creates a Sweeper that runs every interval once started.
func NewSweeper(membership *Membership, checker HealthChecker, interval time.Duration, opts ...Option) *Sweeper {
	return &Sweeper{
		membership: membership,
		checker:    checker,
		interval:   interval,
		options:    newOptions(opts),
	}
}

// Start launches the background worker. Workers run with their own context and
// are stopped by Stop, independently of ctx's lifetime after Start returns.
// A non-positive interval disables the sweeper. Starting a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 || s.cancel != nil {
		return
	}

	var workerCtx context.Context
	workerCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go s.sweepWorker(workerCtx)
}

// Stop cancels the worker and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.cancel = nil
}

// Sweep checks every server once and returns how many were evicted.
// Checks run without holding the membership lock.
func (s *Sweeper) Sweep(ctx context.Context) int {
	var evicted = 0

	for _, target := range s.membership.Targets() {
		if ctx.Err() != nil {
			return evicted
		}

		if s.checker.Check(ctx, target.Endpoint) || ctx.Err() != nil {
			continue
		}

		if s.membership.Evict(target) {
			s.options.metrics.IncEviction(metrics.ReasonSweep)
			evicted++
		}
	}

	return evicted
}

// sweepWorker runs Sweep on every tick until ctx is cancelled.
func (s *Sweeper) sweepWorker(ctx context.Context) {
	defer s.wg.Done()

	var ticker = time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.Sweep(ctx); evicted > 0 {
				s.options.logger.Info("health sweep evicted servers", "evicted", evicted)
			}
		}
	}
}
