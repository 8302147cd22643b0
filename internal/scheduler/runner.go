// Package scheduler funnels sync triggers — a recurring timer, external
// kicks (connectivity restored, post-mutation), and an initial run — into
// one non-reentrant engine entry point.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marin/crate/internal/sync"
)

// Syncer runs one sync cycle. sync.Engine satisfies this.
type Syncer interface {
	RunOnce(ctx context.Context) (sync.Result, error)
}

// Ticker abstracts time.Ticker so tests can drive the runner without real
// timers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Runner schedules sync cycles. All triggers share the engine's in-flight
// guard: an overlapping trigger is dropped, not queued — the next tick
// catches up.
type Runner struct {
	syncer    Syncer
	interval  time.Duration
	kick      chan struct{}
	newTicker func(time.Duration) Ticker
	onResult  func(sync.Result, error)
}

// NewRunner creates a runner firing every interval (default 60s).
func NewRunner(s Syncer, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Runner{
		syncer:    s,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
	}
}

// SetTickerFactory overrides ticker construction (tests).
func (r *Runner) SetTickerFactory(f func(time.Duration) Ticker) { r.newTicker = f }

// SetResultHook registers a callback invoked after every cycle (tests,
// status displays). Dropped overlapping triggers do not invoke it.
func (r *Runner) SetResultHook(f func(sync.Result, error)) { r.onResult = f }

// Kick requests a cycle outside the timer, e.g. when connectivity returns
// or after a local mutation. Non-blocking; a pending kick coalesces.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, executing an initial cycle at startup and
// then one per tick or kick.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.newTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.runOnce(ctx)
		case <-r.kick:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	res, err := r.syncer.RunOnce(ctx)
	switch {
	case errors.Is(err, sync.ErrSyncInFlight):
		slog.Debug("scheduler: cycle already in flight, trigger dropped")
		return
	case err != nil:
		// Transient failures retry on the next tick; nothing here is fatal
		// to the host application.
		slog.Warn("scheduler: sync cycle failed", "err", err)
	default:
		slog.Debug("scheduler: sync cycle complete",
			"status", res.Status, "pushed", res.Pushed, "pulled", res.Pulled,
			"conflicts", res.Conflicts, "cursor", res.Cursor)
	}
	if r.onResult != nil {
		r.onResult(res, err)
	}
}
