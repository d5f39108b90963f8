package engine

import (
	"context"
	"sync"
)

// Waiter lets a synchronous caller block until the engine stops or reports
// its first fatal error. Later errors are logged by the scheduler but not
// re-delivered unless the waiter is reset.
type Waiter struct {
	mu      sync.Mutex
	done    chan struct{}
	signald bool
	stopped bool
	err     error
}

func NewWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

// NotifyError records the first error and wakes waiters.
func (w *Waiter) NotifyError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
	w.signal()
}

// NotifyStop wakes waiters with a clean stop.
func (w *Waiter) NotifyStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.signal()
}

func (w *Waiter) signal() {
	if !w.signald {
		w.signald = true
		close(w.done)
	}
}

// Err returns the recorded error, if any.
func (w *Waiter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until NotifyStop or the first NotifyError, returning the
// error (nil on clean stop). A cancelled ctx returns ctx.Err().
func (w *Waiter) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return w.Err()
	}
}

// Reset clears the recorded error and re-arms the waiter so a subsequent
// error can be observed again.
func (w *Waiter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = nil
	w.stopped = false
	w.signald = false
	w.done = make(chan struct{})
}
