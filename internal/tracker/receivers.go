package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"microbeat/pkg/logx"
)

var ErrIntakeStopped = errors.New("tracker: receiver intake stopped")

// ReceiverInfo describes one active data-receiving worker.
type ReceiverInfo struct {
	ID           string    `json:"id"`
	Stream       string    `json:"stream"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Receivers tracks active data-receiving workers. Intake is refused after
// StopIntake so no new receivers attach while the engine drains.
type Receivers struct {
	log logx.Logger

	mu      sync.Mutex
	running bool
	intake  bool
	active  map[string]ReceiverInfo
}

func NewReceivers(log logx.Logger) *Receivers {
	return &Receivers{log: log, active: map[string]ReceiverInfo{}}
}

func (r *Receivers) Start() error {
	r.mu.Lock()
	r.running = true
	r.intake = true
	r.mu.Unlock()
	return nil
}

// StopIntake refuses new registrations but leaves current receivers active.
func (r *Receivers) StopIntake() {
	r.mu.Lock()
	r.intake = false
	r.mu.Unlock()
	r.log.Debug("receiver intake stopped")
}

func (r *Receivers) Stop() error {
	r.mu.Lock()
	n := len(r.active)
	r.running = false
	r.intake = false
	r.active = map[string]ReceiverInfo{}
	r.mu.Unlock()
	if n > 0 {
		r.log.Debug("deregistered receivers on stop", logx.Int("count", n))
	}
	return nil
}

// Register attaches a receiver. Fails once intake is stopped.
func (r *Receivers) Register(id, stream string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.intake {
		return ErrIntakeStopped
	}
	r.active[id] = ReceiverInfo{ID: id, Stream: stream, RegisteredAt: time.Now()}
	return nil
}

func (r *Receivers) Deregister(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Active returns a snapshot of registered receivers, ordered by ID.
func (r *Receivers) Active() []ReceiverInfo {
	r.mu.Lock()
	out := make([]ReceiverInfo, 0, len(r.active))
	for _, info := range r.active {
		out = append(out, info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
