// Package timer provides the drift-free recurring timer that produces batch
// boundaries. Fire instants are always exact multiples of the period (or of
// the original start grid after a restart), independent of scheduling jitter.
package timer

import (
	"context"
	"sync"
	"time"

	"microbeat/internal/clock"
	"microbeat/pkg/logx"
)

// Callback receives the nominal fire instant, not the wall-clock time at
// which the callback actually ran.
type Callback func(t clock.Time)

// InitialFireTime returns the smallest multiple of period strictly greater
// than now. Aligning to epoch 0 means independent restarts converge on the
// same boundary grid.
func InitialFireTime(now clock.Time, period time.Duration) clock.Time {
	return now.Floor(period).Add(period)
}

// RestartFireTime returns the smallest origin + k*period (k >= 1) strictly
// greater than now, preserving the original alignment grid across a
// stop/restart cycle.
func RestartFireTime(now, origin clock.Time, period time.Duration) clock.Time {
	if now < origin {
		return origin.Add(period)
	}
	return origin + InitialFireTime(now-origin, period)
}

// RecurringTimer fires a callback once per period on a dedicated goroutine.
//
// A timer instance runs at most once: Start a second instance instead of
// restarting a stopped one.
type RecurringTimer struct {
	clk    clock.Clock
	period time.Duration
	cb     Callback
	name   string
	log    logx.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	next    clock.Time
	last    clock.Time
}

func New(clk clock.Clock, period time.Duration, cb Callback, name string, log logx.Logger) *RecurringTimer {
	if period <= 0 {
		panic("timer: period must be positive")
	}
	return &RecurringTimer{
		clk:    clk,
		period: period,
		cb:     cb,
		name:   name,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start begins firing on the epoch-aligned grid and returns the first fire time.
func (t *RecurringTimer) Start() clock.Time {
	return t.StartAt(InitialFireTime(t.clk.Now(), t.period))
}

// Restart begins firing on the grid anchored at origin.
func (t *RecurringTimer) Restart(origin clock.Time) clock.Time {
	return t.StartAt(RestartFireTime(t.clk.Now(), origin, t.period))
}

// StartAt records first as the next fire time and launches the loop goroutine.
// Calling StartAt twice on the same instance is a programming error.
func (t *RecurringTimer) StartAt(first clock.Time) clock.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		panic("timer: " + t.name + " started twice")
	}
	t.started = true
	t.next = first

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.loop(ctx)

	t.log.Debug("timer started", logx.String("timer", t.name), logx.Int64("first", first.Milliseconds()))
	return first
}

// Stop halts the timer and blocks until the loop goroutine has exited.
// With interrupt, an in-flight wait is aborted immediately; a callback
// already running may still complete, so the returned last fire time is
// best-effort in that case. Stop is idempotent.
func (t *RecurringTimer) Stop(interrupt bool) clock.Time {
	t.mu.Lock()
	if !t.started {
		t.stopped = true
		last := t.last
		t.mu.Unlock()
		return last
	}
	alreadyStopped := t.stopped
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()

	if !alreadyStopped && interrupt {
		cancel()
	}
	<-t.done
	cancel()

	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	if !alreadyStopped {
		t.log.Debug("timer stopped", logx.String("timer", t.name), logx.Int64("last", last.Milliseconds()))
	}
	return last
}

func (t *RecurringTimer) loop(ctx context.Context) {
	defer close(t.done)
	for {
		t.mu.Lock()
		stopped := t.stopped
		next := t.next
		t.mu.Unlock()
		if stopped {
			return
		}

		if _, err := t.clk.WaitUntil(ctx, next); err != nil {
			// A cancelled wait is the expected stop path, not an error.
			return
		}

		t.cb(next)

		t.mu.Lock()
		t.last = next
		t.next = next.Add(t.period)
		t.mu.Unlock()
	}
}
