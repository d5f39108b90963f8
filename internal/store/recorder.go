package store

import (
	"context"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/engine"
	"microbeat/internal/eventbus"
	"microbeat/pkg/logx"
)

const (
	appendTimeout = 2 * time.Second

	// maxFailureEntries bounds the per-boundary failure counts. Failed
	// sets never complete, so without a bound the map grows for the
	// process lifetime; when full, the oldest boundary is dropped.
	maxFailureEntries = 512
)

// Recorder subscribes to batch lifecycle events and writes them to a
// Store. It runs until Stop is called.
type Recorder struct {
	st  Store
	bus eventbus.Bus
	log logx.Logger

	unsub func()
	done  chan struct{}

	// failures counts job failures per boundary so a later completion
	// carries them. Bounded; only the run goroutine touches it.
	failures map[clock.Time]int
}

func NewRecorder(st Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	return &Recorder{st: st, bus: bus, log: log, failures: make(map[clock.Time]int)}
}

func (r *Recorder) Start() {
	if r.st == nil || r.done != nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	r.unsub = unsub
	r.done = make(chan struct{})
	go r.run(ch)
}

func (r *Recorder) Stop() {
	if r.done == nil {
		return
	}
	r.unsub()
	<-r.done
	r.done = nil
}

func (r *Recorder) run(ch <-chan eventbus.Event) {
	defer close(r.done)
	for ev := range ch {
		switch ev.Type {
		case engine.EventJobFailed:
			if jf, ok := ev.Data.(engine.JobFailure); ok {
				r.trackFailure(jf.Time)
			}
		case engine.EventBatchCompleted:
			bi, ok := ev.Data.(engine.BatchInfo)
			if !ok {
				continue
			}
			r.append(bi)
		}
	}
}

func (r *Recorder) trackFailure(t clock.Time) {
	r.failures[t]++
	if len(r.failures) <= maxFailureEntries {
		return
	}
	oldest := t
	for k := range r.failures {
		if k < oldest {
			oldest = k
		}
	}
	delete(r.failures, oldest)
}

func (r *Recorder) append(bi engine.BatchInfo) {
	rec := BatchRecord{
		Time:            bi.Time,
		SubmittedAt:     bi.SubmittedAt,
		StartedAt:       bi.StartedAt,
		CompletedAt:     bi.CompletedAt,
		NumJobs:         bi.NumJobs,
		FailedJobs:      r.failures[bi.Time],
		TotalRecords:    bi.TotalRecords,
		ProcessingDelay: bi.ProcessingDelay,
		TotalDelay:      bi.TotalDelay,
	}
	delete(r.failures, bi.Time)

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.st.AppendBatch(ctx, rec); err != nil {
		r.log.Warn("batch record append failed",
			logx.String("batch", bi.Time.String()), logx.Err(err))
	}
}
