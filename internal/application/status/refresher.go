package status

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic refresh.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Refresher runs jobs on their own tickers until stopped. Jobs only touch
// caches and the status board, never a batch run.
type Refresher struct {
	Jobs   []Job
	Logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start runs every job once immediately, then on its interval. Calling
// Start on a running refresher is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for _, j := range r.Jobs {
		if j.Interval <= 0 {
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
}

// Stop cancels every ticker and waits for in-flight jobs.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

func (r *Refresher) loop(ctx context.Context, j Job) {
	defer r.wg.Done()
	log := r.logger().With("job", j.Name)

	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (r *Refresher) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
