// Package workload drives the engine with synthetic input streams. Each
// stream registers a receiver, emits records at a configured rate into
// the input tracker and is planned into one job per batch boundary.
package workload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/config"
	"microbeat/internal/engine"
	"microbeat/internal/monitor"
	"microbeat/internal/tracker"
	"microbeat/pkg/logx"
)

// Stream is one synthetic source.
type Stream struct {
	Name          string
	RatePerSec    int64
	CostPerRecord time.Duration
	Weight        float64
	FailEvery     int
}

// FromConfig converts stream config entries into runtime streams.
func FromConfig(streams []config.StreamConfig) []Stream {
	out := make([]Stream, 0, len(streams))
	for _, s := range streams {
		w := s.Weight
		if w == 0 {
			w = 1
		}
		out = append(out, Stream{
			Name:          s.Name,
			RatePerSec:    s.RatePerSec,
			CostPerRecord: config.DurationOrDefault(s.CostPerRecord, 0),
			Weight:        w,
			FailEvery:     s.FailEvery,
		})
	}
	return out
}

// Weights returns the initial load-distribution weights keyed by stream.
func Weights(streams []Stream) map[string]float64 {
	m := make(map[string]float64, len(streams))
	for _, s := range streams {
		m[s.Name] = s.Weight
	}
	return m
}

// Emitter pushes records for all configured streams into the input
// tracker, one goroutine per stream, at ten pulses per second.
type Emitter struct {
	streams   []Stream
	inputs    *tracker.Inputs
	receivers *tracker.Receivers
	log       logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEmitter(streams []Stream, inputs *tracker.Inputs, receivers *tracker.Receivers, log logx.Logger) *Emitter {
	return &Emitter{streams: streams, inputs: inputs, receivers: receivers, log: log}
}

func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)

	for _, s := range e.streams {
		if s.RatePerSec <= 0 {
			continue
		}
		id := fmt.Sprintf("emitter-%s", s.Name)
		if err := e.receivers.Register(id, s.Name); err != nil {
			e.log.Warn("receiver registration rejected",
				logx.String("stream", s.Name), logx.Err(err))
			continue
		}
		e.wg.Add(1)
		go e.emit(ctx, s, id)
	}
	return nil
}

func (e *Emitter) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
}

func (e *Emitter) emit(ctx context.Context, s Stream, id string) {
	defer e.wg.Done()
	defer e.receivers.Deregister(id)

	const pulsesPerSec = 10
	tick := time.NewTicker(time.Second / pulsesPerSec)
	defer tick.Stop()

	// Spread the per-second rate across pulses, carrying the remainder
	// so low rates still add up exactly.
	var carry int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n := (s.RatePerSec + carry) / pulsesPerSec
			carry = (s.RatePerSec + carry) % pulsesPerSec
			if n > 0 {
				e.inputs.Record(s.Name, n)
			}
		}
	}
}

// Planner builds one job per stream per batch boundary. Job cost is
// simulated as a sleep proportional to the allocated record count,
// scaled by the stream's current distribution weight.
type Planner struct {
	streams map[string]Stream
	log     logx.Logger

	mu      sync.Mutex
	batches map[string]int // per-stream batch counter for failure injection
}

func NewPlanner(streams []Stream, log logx.Logger) *Planner {
	byName := make(map[string]Stream, len(streams))
	for _, s := range streams {
		byName[s.Name] = s
	}
	return &Planner{streams: byName, log: log, batches: make(map[string]int)}
}

func (p *Planner) Plan(t clock.Time, alloc map[string]int64, dist *monitor.Table) ([]*engine.Job, error) {
	names := make([]string, 0, len(alloc))
	for name := range alloc {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]*engine.Job, 0, len(names))
	for i, name := range names {
		s, ok := p.streams[name]
		if !ok {
			continue
		}
		records := alloc[name]
		weight := dist.Weight(name)

		fail := p.shouldFail(s)
		cost := time.Duration(float64(records) * float64(s.CostPerRecord) / weight)
		jobs = append(jobs, engine.NewJob(t, i, p.action(name, records, cost, fail)))
	}
	return jobs, nil
}

func (p *Planner) shouldFail(s Stream) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches[s.Name]++
	return s.FailEvery > 0 && p.batches[s.Name]%s.FailEvery == 0
}

func (p *Planner) action(stream string, records int64, cost time.Duration, fail bool) engine.Action {
	return func(ctx context.Context) error {
		if cost > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cost):
			}
		}
		if fail {
			return fmt.Errorf("stream %s: injected failure after %d records", stream, records)
		}
		p.log.Debug("stream batch processed",
			logx.String("stream", stream),
			logx.Int64("records", records),
			logx.Duration("cost", cost))
		return nil
	}
}
