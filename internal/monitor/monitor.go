// Package monitor models the cluster-coordination collaborator that hands
// out load-distribution hints. The real coordinator lives outside this
// process; here it is an interface plus an in-memory implementation whose
// table is an immutable snapshot swapped atomically, so readers never see a
// partially-updated table.
package monitor

import (
	"sync"
	"sync/atomic"

	"microbeat/internal/clock"
)

// Table is an immutable snapshot of per-stream load weights.
// Never mutate a Table after publishing it; build a new one and swap.
type Table struct {
	Version uint64             `json:"version"`
	Weights map[string]float64 `json:"weights"`
}

// Weight returns the weight for a stream, defaulting to 1.
func (t *Table) Weight(stream string) float64 {
	if t == nil {
		return 1
	}
	if w, ok := t.Weights[stream]; ok {
		return w
	}
	return 1
}

// InMemory is a single-writer monitor: Update publishes a new table
// snapshot, Table is safe for concurrent readers.
type InMemory struct {
	table atomic.Pointer[Table]

	mu           sync.Mutex
	version      uint64
	lastFinished clock.Time
}

func NewInMemory(weights map[string]float64) *InMemory {
	m := &InMemory{}
	m.Update(weights)
	return m
}

func (m *InMemory) Table() *Table { return m.table.Load() }

// Update publishes a new snapshot built from a copy of weights.
func (m *InMemory) Update(weights map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	m.table.Store(&Table{Version: m.version, Weights: cp})
}

func (m *InMemory) NotifyBatchFinished(t clock.Time) {
	m.mu.Lock()
	if t > m.lastFinished {
		m.lastFinished = t
	}
	m.mu.Unlock()
}

// LastFinished returns the highest boundary reported finished.
func (m *InMemory) LastFinished() clock.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFinished
}
