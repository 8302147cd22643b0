package scheduler

import (
	"context"
	"testing"
	"time"

	cratesync "github.com/marin/crate/internal/sync"
)

// fakeSyncer counts cycles and can return a scripted error.
type fakeSyncer struct {
	calls chan struct{}
	err   error
	res   cratesync.Result
}

func (f *fakeSyncer) RunOnce(ctx context.Context) (cratesync.Result, error) {
	f.calls <- struct{}{}
	return f.res, f.err
}

// manualTicker fires only when the test says so.
type manualTicker struct {
	c chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

func newRunnerWithManualTick(s Syncer) (*Runner, *manualTicker) {
	r := NewRunner(s, time.Minute)
	mt := &manualTicker{c: make(chan time.Time)}
	r.SetTickerFactory(func(time.Duration) Ticker { return mt })
	return r, mt
}

func waitCall(t *testing.T, calls chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync cycle")
	}
}

func TestRunExecutesInitialCycle(t *testing.T) {
	s := &fakeSyncer{calls: make(chan struct{}, 10)}
	r, _ := newRunnerWithManualTick(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	waitCall(t, s.calls)
	cancel()
	<-done
}

func TestTickTriggersCycle(t *testing.T) {
	s := &fakeSyncer{calls: make(chan struct{}, 10)}
	r, mt := newRunnerWithManualTick(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitCall(t, s.calls) // initial
	mt.c <- time.Now()
	waitCall(t, s.calls)
	mt.c <- time.Now()
	waitCall(t, s.calls)
}

func TestKickTriggersCycleAndCoalesces(t *testing.T) {
	s := &fakeSyncer{calls: make(chan struct{}, 10)}
	r, _ := newRunnerWithManualTick(s)

	// Kicks before Run starts coalesce into one pending trigger.
	r.Kick()
	r.Kick()
	r.Kick()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitCall(t, s.calls) // initial
	waitCall(t, s.calls) // the coalesced kick

	select {
	case <-s.calls:
		t.Fatal("coalesced kicks produced extra cycles")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResultHookSeesCycleOutcome(t *testing.T) {
	s := &fakeSyncer{
		calls: make(chan struct{}, 10),
		res:   cratesync.Result{Status: cratesync.StatusOK, Pushed: 2, Pulled: 5, Cursor: 7},
	}
	r, _ := newRunnerWithManualTick(s)

	results := make(chan cratesync.Result, 10)
	r.SetResultHook(func(res cratesync.Result, err error) {
		results <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitCall(t, s.calls)
	select {
	case res := <-results:
		if res.Pushed != 2 || res.Pulled != 5 || res.Cursor != 7 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("result hook not invoked")
	}
}

func TestInFlightTriggerIsDropped(t *testing.T) {
	s := &fakeSyncer{calls: make(chan struct{}, 10), err: cratesync.ErrSyncInFlight}
	r, _ := newRunnerWithManualTick(s)

	var hookCalls int
	hookDone := make(chan struct{}, 10)
	r.SetResultHook(func(res cratesync.Result, err error) {
		hookCalls++
		hookDone <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	waitCall(t, s.calls)
	select {
	case <-hookDone:
		t.Fatal("result hook invoked for a dropped in-flight trigger")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := &fakeSyncer{calls: make(chan struct{}, 10)}
	r, _ := newRunnerWithManualTick(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	waitCall(t, s.calls)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
