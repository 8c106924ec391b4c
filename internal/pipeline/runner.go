package pipeline

import (
	"context"
	"sync"
	"time"

	"quorum/internal/logger"
)

// Runner dispatches pipeline runs and enforces the concurrency rules:
// at most one in-flight run per symbol (later triggers for a busy
// symbol are dropped, never queued) and a minimum interval between
// alert-triggered runs for the same symbol.
type Runner struct {
	machine       *Machine
	minRunIntFn   func() time.Duration
	onTerminal    func(*Run)

	mu       sync.Mutex
	inflight map[string]*Run
	lastRun  map[string]time.Time

	wg    sync.WaitGroup
	nowFn func() time.Time
}

func NewRunner(machine *Machine, minRunIntervalFn func() time.Duration) *Runner {
	return &Runner{
		machine:     machine,
		minRunIntFn: minRunIntervalFn,
		inflight:    make(map[string]*Run),
		lastRun:     make(map[string]time.Time),
		nowFn:       time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (r *Runner) SetClock(fn func() time.Time) {
	if fn != nil {
		r.nowFn = fn
	}
}

// OnTerminal registers a callback invoked after each run finishes,
// from the run's goroutine.
func (r *Runner) OnTerminal(fn func(*Run)) {
	r.onTerminal = fn
}

// Trigger starts a run for symbol unless coalesced away. Returns the
// run and true when dispatched; nil and false when dropped. Never
// blocks on the run itself.
func (r *Runner) Trigger(ctx context.Context, symbol string, trigger Trigger) (*Run, bool) {
	now := r.nowFn()

	r.mu.Lock()
	if inflight, busy := r.inflight[symbol]; busy {
		r.mu.Unlock()
		logger.Infof("trigger %s for %s dropped: run %s in flight", trigger, symbol, inflight.ID)
		return nil, false
	}
	if trigger == TriggerAlert {
		if last, ok := r.lastRun[symbol]; ok {
			if minInt := r.minRunIntFn(); minInt > 0 && now.Sub(last) < minInt {
				r.mu.Unlock()
				logger.Infof("alert trigger for %s dropped: last run %s ago", symbol, now.Sub(last).Truncate(time.Second))
				return nil, false
			}
		}
	}
	run := NewRun(symbol, trigger, now)
	r.inflight[symbol] = run
	r.lastRun[symbol] = now
	r.mu.Unlock()

	logger.Infof("run %s started: symbol=%s trigger=%s", run.ID, symbol, trigger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, symbol)
			r.mu.Unlock()
		}()
		r.machine.Execute(ctx, run)
		if r.onTerminal != nil {
			r.onTerminal(run)
		}
	}()
	return run, true
}

// ActiveRuns snapshots the in-flight runs for the status endpoint.
func (r *Runner) ActiveRuns() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.inflight))
	for sym, run := range r.inflight {
		out[sym] = run.ID
	}
	return out
}

// Wait blocks until every dispatched run reaches a terminal status.
func (r *Runner) Wait() {
	r.wg.Wait()
}
