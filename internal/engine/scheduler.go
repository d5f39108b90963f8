package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"microbeat/internal/clock"
	"microbeat/internal/eventbus"
	"microbeat/internal/metrics"
	"microbeat/internal/monitor"
	"microbeat/pkg/logx"
)

type schedState int

const (
	stateIdle schedState = iota
	stateRunning
	stateStopped
)

// Collaborators are the external components the scheduler drives. Nil
// entries are replaced with no-ops so tests can wire only what they need.
type Collaborators struct {
	Generator Generator
	Inputs    InputTracker
	Receivers ReceiverTracker
	Monitor   Monitor
}

// Scheduler executes whole job sets with bounded parallelism and detects,
// exactly once per set, when a set is fully complete.
type Scheduler struct {
	cfg Config
	clk clock.Clock
	log logx.Logger
	bus eventbus.Bus
	met *metrics.Engine

	generator Generator
	inputs    InputTracker
	receivers ReceiverTracker
	monitor   Monitor
	waiter    *Waiter

	events *queue[event]
	jobs   *queue[*Job]

	workCtx    context.Context
	workCancel context.CancelFunc
	workersWG  sync.WaitGroup
	loopDone   chan struct{}

	// errLog throttles repeated error logging on the hot path; the waiter
	// still sees every reported error.
	errLog *rate.Limiter

	mu      sync.Mutex
	state   schedState
	sets    map[clock.Time]*JobSet
	evicted chan struct{}
}

func NewScheduler(cfg Config, clk clock.Clock, col Collaborators, bus eventbus.Bus, met *metrics.Engine, log logx.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if col.Generator == nil {
		col.Generator = nopGenerator{}
	}
	if col.Inputs == nil {
		col.Inputs = nopInputs{}
	}
	if col.Receivers == nil {
		col.Receivers = nopReceivers{}
	}
	if col.Monitor == nil {
		col.Monitor = nopMonitor{}
	}
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		clk:       clk,
		log:       log,
		bus:       bus,
		met:       met,
		generator: col.Generator,
		inputs:    col.Inputs,
		receivers: col.Receivers,
		monitor:   col.Monitor,
		waiter:    NewWaiter(),
		events:    newQueue[event](),
		jobs:      newQueue[*Job](),
		loopDone:  make(chan struct{}),
		errLog:    rate.NewLimiter(rate.Every(time.Second), 5),
		sets:      map[clock.Time]*JobSet{},
		evicted:   make(chan struct{}, 1),
	}
}

// Waiter returns the fatal-error waiter a synchronous caller can block on.
func (s *Scheduler) Waiter() *Waiter { return s.waiter }

// SetGenerator installs the generator after construction, for callers
// whose generator needs the scheduler as its submitter. Must be called
// before Start.
func (s *Scheduler) SetGenerator(g Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		panic("scheduler: SetGenerator after Start")
	}
	if g != nil {
		s.generator = g
	}
}

// Start launches the event loop, the worker pool and the collaborators.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = stateRunning
	s.workCtx, s.workCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	go s.eventLoop()
	for i := 0; i < s.cfg.Concurrency; i++ {
		s.workersWG.Add(1)
		go s.worker(i)
	}

	if err := s.receivers.Start(); err != nil {
		return fmt.Errorf("start receiver tracker: %w", err)
	}
	if err := s.inputs.Start(); err != nil {
		return fmt.Errorf("start input tracker: %w", err)
	}
	if err := s.generator.Start(s.workCtx); err != nil {
		return fmt.Errorf("start generator: %w", err)
	}

	s.log.Info("scheduler started", logx.Int("concurrency", s.cfg.Concurrency))
	return nil
}

// Stop shuts the scheduler down. With drain, it waits (bounded by
// DrainTimeout) for all already-submitted sets to finish; otherwise the
// worker pool gets StopTimeout before remaining work is forcefully
// cancelled. Stop is idempotent.
func (s *Scheduler) Stop(drain bool) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	s.mu.Unlock()

	// Order matters: no new receiver input, then no new batches, then the
	// pool, then the event loop that everything reports into.
	s.receivers.StopIntake()

	if err := s.generator.Stop(drain); err != nil {
		s.log.Warn("generator stop", logx.Err(err))
	}
	if drain && !s.WaitForIdle(s.cfg.DrainTimeout) {
		s.log.Warn("drain timed out with sets still pending",
			logx.Int("pending", len(s.PendingTimes())))
	}

	s.jobs.close()
	bound := s.cfg.StopTimeout
	if drain {
		bound = s.cfg.DrainTimeout
	}
	if !waitTimeout(&s.workersWG, bound) {
		s.log.Warn("worker pool did not drain, cancelling remaining jobs",
			logx.Duration("waited", bound))
		s.workCancel()
		if !waitTimeout(&s.workersWG, s.cfg.StopTimeout) {
			s.log.Error("worker pool still busy after forced cancellation")
		}
	}

	s.events.close()
	<-s.loopDone

	if err := s.receivers.Stop(); err != nil {
		s.log.Warn("receiver tracker stop", logx.Err(err))
	}
	if err := s.inputs.Stop(); err != nil {
		s.log.Warn("input tracker stop", logx.Err(err))
	}
	s.workCancel()
	s.waiter.NotifyStop()

	s.log.Info("scheduler stopped", logx.Bool("drained", drain))
	return nil
}

// SubmitJobSet registers a set and hands its jobs to the worker pool. An
// empty set is valid and cheap: it is recorded and produces no side effects.
// This is the sole entry point that adds a boundary to the pending registry.
func (s *Scheduler) SubmitJobSet(set *JobSet) {
	if set.Len() == 0 {
		s.log.Info("no jobs to run", logx.Int64("batch", set.time.Milliseconds()))
		return
	}

	now := s.clk.Now()
	set.submittedAt = now
	set.dist = s.monitor.Table()
	for _, j := range set.jobs {
		j.submittedAt = now
	}

	// Registration goes through the event loop so the registry has a single
	// writer. FIFO order guarantees the registration is processed before any
	// started/completed event of the set's own jobs.
	if !s.events.push(jobSetSubmitted{set: set}) {
		s.log.Warn("job set submitted after stop, dropping",
			logx.Int64("batch", set.time.Milliseconds()))
		return
	}
	for _, j := range set.jobs {
		s.jobs.push(j)
	}

	s.met.BatchSubmitted()
	s.log.Debug("job set submitted",
		logx.Int64("batch", set.time.Milliseconds()), logx.Int("jobs", set.Len()))
}

// PendingTimes returns a snapshot of boundaries with an unfinished set,
// in ascending order.
func (s *Scheduler) PendingTimes() []clock.Time {
	s.mu.Lock()
	out := make([]clock.Time, 0, len(s.sets))
	for t := range s.sets {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReportError asynchronously routes an error through the event stream.
// It never blocks.
func (s *Scheduler) ReportError(msg string, err error) {
	if !s.events.push(errorReported{msg: msg, err: err}) {
		// Event loop already stopped; fall back to the log.
		s.log.Error(msg, logx.Err(err))
	}
}

// WaitForIdle blocks until the pending registry is empty or the timeout
// elapses, reporting whether it went idle. Sets with a failed job never
// complete, so callers always bound this wait.
func (s *Scheduler) WaitForIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		n := len(s.sets)
		s.mu.Unlock()
		if n == 0 {
			return true
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return false
		}
		if remain > 100*time.Millisecond {
			remain = 100 * time.Millisecond
		}
		select {
		case <-s.evicted:
		case <-time.After(remain):
		}
	}
}

// ---- Event loop ----

func (s *Scheduler) eventLoop() {
	defer close(s.loopDone)
	for {
		ev, ok := s.events.pop()
		if !ok {
			return
		}
		s.processEvent(ev)
	}
}

// processEvent handles one event. A panic while handling is wrapped and
// re-reported through the error path; the loop itself must never die.
func (s *Scheduler) processEvent(ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.handleError("event processing panicked", fmt.Errorf("%v", r))
		}
	}()

	switch e := ev.(type) {
	case jobSetSubmitted:
		s.mu.Lock()
		s.sets[e.set.time] = e.set
		s.mu.Unlock()
	case jobStarted:
		s.handleJobStart(e.job)
	case jobCompleted:
		s.handleJobCompletion(e.job)
	case errorReported:
		s.handleError(e.msg, e.err)
	}
}

func (s *Scheduler) handleJobStart(job *Job) {
	set := s.lookupSet(job.time)
	if set == nil {
		s.log.Warn("start event for unknown set", logx.String("job", job.ID()))
		return
	}
	now := s.clk.Now()
	if !set.HasStarted() {
		s.bus.Publish(eventbus.Event{Type: EventBatchStarted, Data: BatchInfo{
			Time:        set.time,
			SubmittedAt: set.submittedAt,
			StartedAt:   now,
			NumJobs:     set.Len(),
			DistVersion: distVersion(set.dist),
		}})
		s.log.Info("batch started", logx.Int64("batch", set.time.Milliseconds()),
			logx.Int("jobs", set.Len()))
	}
	set.handleStart(now)
	job.startedAt = now
	s.met.JobStarted()
	s.log.Debug("job started", logx.String("job", job.ID()))
}

func (s *Scheduler) handleJobCompletion(job *Job) {
	set := s.lookupSet(job.time)
	if set == nil {
		s.log.Warn("completion event for unknown set", logx.String("job", job.ID()))
		return
	}
	now := s.clk.Now()
	job.endedAt = now

	if err, _ := job.Result(); err != nil {
		s.met.JobFinished(job.endedAt.Since(job.startedAt), true)
		s.bus.Publish(eventbus.Event{Type: EventJobFailed, Data: JobFailure{
			Time: set.time, JobID: job.ID(), Error: err.Error(),
		}})
		// The set stays registered: a failed job does not complete its set.
		s.handleError("job failed: "+job.ID(), err)
		return
	}

	set.handleCompletion(now)
	s.met.JobFinished(job.endedAt.Since(job.startedAt), false)
	s.log.Debug("job completed", logx.String("job", job.ID()),
		logx.Duration("took", job.endedAt.Since(job.startedAt)))

	if !set.HasCompleted() {
		return
	}

	// Exactly once per set: eviction happens only here, on the loop.
	s.mu.Lock()
	delete(s.sets, set.time)
	s.mu.Unlock()
	select {
	case s.evicted <- struct{}{}:
	default:
	}

	records := s.inputs.TotalSizeOf(set.time)
	s.generator.OnBatchCompletion(set.time)
	s.monitor.NotifyBatchFinished(set.time)
	s.met.BatchCompleted(set.TotalDelay(), set.ProcessingDelay(), records)
	s.bus.Publish(eventbus.Event{Type: EventBatchCompleted, Data: BatchInfo{
		Time:            set.time,
		SubmittedAt:     set.submittedAt,
		StartedAt:       set.firstStartedAt,
		CompletedAt:     set.lastCompletedAt,
		NumJobs:         set.Len(),
		TotalRecords:    records,
		DistVersion:     distVersion(set.dist),
		ProcessingDelay: set.ProcessingDelay(),
		TotalDelay:      set.TotalDelay(),
	}})
	s.log.Info("batch completed",
		logx.Int64("batch", set.time.Milliseconds()),
		logx.Int64("records", records),
		logx.Duration("total_delay", set.TotalDelay()),
		logx.Duration("processing_delay", set.ProcessingDelay()))
}

func (s *Scheduler) handleError(msg string, err error) {
	if s.errLog.Allow() {
		s.log.Error(msg, logx.Err(err))
	}
	s.waiter.NotifyError(fmt.Errorf("%s: %w", msg, err))
}

func distVersion(t *monitor.Table) uint64 {
	if t == nil {
		return 0
	}
	return t.Version
}

func (s *Scheduler) lookupSet(t clock.Time) *JobSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[t]
}

// waitTimeout waits on wg up to d, reporting whether it finished in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// ---- No-op collaborators ----

type nopGenerator struct{}

func (nopGenerator) Start(context.Context) error  { return nil }
func (nopGenerator) Stop(bool) error              { return nil }
func (nopGenerator) OnBatchCompletion(clock.Time) {}

type nopInputs struct{}

func (nopInputs) Start() error                 { return nil }
func (nopInputs) Stop() error                  { return nil }
func (nopInputs) TotalSizeOf(clock.Time) int64 { return 0 }

type nopReceivers struct{}

func (nopReceivers) Start() error { return nil }
func (nopReceivers) StopIntake()  {}
func (nopReceivers) Stop() error  { return nil }

type nopMonitor struct{}

func (nopMonitor) Table() *monitor.Table          { return nil }
func (nopMonitor) NotifyBatchFinished(clock.Time) {}
