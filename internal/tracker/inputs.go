// Package tracker implements the scheduler's bookkeeping collaborators:
// per-boundary input sizes and the registry of active receivers.
package tracker

import (
	"sync"

	"microbeat/internal/clock"
	"microbeat/pkg/logx"
)

// Inputs accumulates incoming record counts per stream and allocates them to
// batch boundaries. Records reported between two ticks belong to the next
// allocated boundary.
type Inputs struct {
	log logx.Logger

	mu      sync.Mutex
	running bool
	pending map[string]int64
	byBatch map[clock.Time]map[string]int64
}

func NewInputs(log logx.Logger) *Inputs {
	return &Inputs{
		log:     log,
		pending: map[string]int64{},
		byBatch: map[clock.Time]map[string]int64{},
	}
}

func (in *Inputs) Start() error {
	in.mu.Lock()
	in.running = true
	in.mu.Unlock()
	return nil
}

func (in *Inputs) Stop() error {
	in.mu.Lock()
	in.running = false
	in.mu.Unlock()
	return nil
}

// Record reports n records received on a stream since the last allocation.
// Reports while stopped are dropped.
func (in *Inputs) Record(stream string, n int64) {
	if n <= 0 {
		return
	}
	in.mu.Lock()
	if in.running {
		in.pending[stream] += n
	}
	in.mu.Unlock()
}

// Allocate assigns everything reported since the previous call to boundary t
// and returns the per-stream allocation. Called once per tick by the
// generator.
func (in *Inputs) Allocate(t clock.Time) map[string]int64 {
	in.mu.Lock()
	defer in.mu.Unlock()

	alloc := in.pending
	in.pending = map[string]int64{}
	in.byBatch[t] = alloc

	out := make(map[string]int64, len(alloc))
	for k, v := range alloc {
		out[k] = v
	}
	return out
}

// TotalSizeOf returns the number of records allocated to boundary t.
func (in *Inputs) TotalSizeOf(t clock.Time) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	var total int64
	for _, n := range in.byBatch[t] {
		total += n
	}
	return total
}

// Cleanup drops allocations for boundaries at or before t. Called when a
// boundary's set has fully completed.
func (in *Inputs) Cleanup(t clock.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for bt := range in.byBatch {
		if bt <= t {
			delete(in.byBatch, bt)
		}
	}
}
