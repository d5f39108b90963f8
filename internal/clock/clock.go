// Package clock abstracts wall-clock time behind a pluggable interface so
// the timer and scheduler can be driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the current instant and a blocking wait primitive.
type Clock interface {
	Now() Time

	// WaitUntil blocks until the clock reaches target or ctx is cancelled.
	// It returns the clock reading at wake-up time and ctx.Err() when the
	// wait was cancelled before target was reached.
	WaitUntil(ctx context.Context, target Time) (Time, error)
}

// System returns a Clock backed by the real wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() Time { return Now() }

func (systemClock) WaitUntil(ctx context.Context, target Time) (Time, error) {
	for {
		now := Now()
		if now >= target {
			return now, nil
		}
		t := time.NewTimer(target.Since(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return Now(), ctx.Err()
		case <-t.C:
			// Re-check: the wall clock may have been adjusted backwards.
		}
	}
}

// Manual is a test clock advanced explicitly via Advance/Set.
// Waiters wake as soon as the clock reaches their target.
type Manual struct {
	mu      sync.Mutex
	now     Time
	changed chan struct{}
}

// NewManual returns a Manual clock starting at the given instant.
func NewManual(start Time) *Manual {
	return &Manual{now: start, changed: make(chan struct{})}
}

func (c *Manual) Now() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is a programming error.
func (c *Manual) Set(t Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.now {
		panic("clock: Manual.Set moving backwards")
	}
	c.now = t
	close(c.changed)
	c.changed = make(chan struct{})
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Manual) WaitUntil(ctx context.Context, target Time) (Time, error) {
	for {
		c.mu.Lock()
		now := c.now
		ch := c.changed
		c.mu.Unlock()

		if now >= target {
			return now, nil
		}
		select {
		case <-ctx.Done():
			return now, ctx.Err()
		case <-ch:
		}
	}
}
