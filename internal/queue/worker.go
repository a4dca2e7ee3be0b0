// Package queue runs the background extraction workers. Work items are
// durable evidence rows in the QUEUED state; claiming is a compare-and-swap
// in the store, so concurrent workers never double-process.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/karibu-capital/greenscore-cli/internal/config"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Claimer hands out queued evidence, one item at a time, and recovers
// items whose previous claimant died mid-flight.
type Claimer interface {
	ClaimQueued(ctx context.Context) (*model.Evidence, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Handler processes one claimed evidence item end to end.
type Handler func(ctx context.Context, ev model.Evidence) error

// Worker polls the store and fans claimed evidence out to a bounded pool.
type Worker struct {
	claimer Claimer
	handler Handler
	cfg     config.WorkerConfig
}

// NewWorker creates a Worker with the given claim source and handler.
func NewWorker(claimer Claimer, handler Handler, cfg config.WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollMillis <= 0 {
		cfg.PollMillis = 500
	}
	if cfg.StaleClaimSecs <= 0 {
		cfg.StaleClaimSecs = 300
	}
	return &Worker{claimer: claimer, handler: handler, cfg: cfg}
}

// Run blocks until ctx is cancelled. Each goroutine claims, processes, and
// only then claims again, so in-flight work never exceeds Concurrency.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker: starting",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval()))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		ev, err := w.claimer.ClaimQueued(ctx)
		if err != nil {
			zap.L().Warn("worker: claim failed", zap.Error(err))
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if ev == nil {
			// Queue is idle; sweep for items stranded by a dead worker.
			if n, err := w.claimer.RequeueStale(ctx, w.cfg.StaleClaimAfter()); err != nil {
				zap.L().Warn("worker: stale sweep failed", zap.Error(err))
			} else if n > 0 {
				zap.L().Info("worker: requeued stale items", zap.Int("count", n))
				continue
			}
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := w.handler(ctx, *ev); err != nil {
			// The handler routes its own failures to review where it can;
			// anything it could not record stays claimed until the stale
			// sweep returns it to the queue.
			zap.L().Warn("worker: item failed",
				zap.String("evidence_id", ev.ID),
				zap.Error(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// sleep waits one poll interval; false means ctx was cancelled.
func (w *Worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.cfg.PollInterval())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
