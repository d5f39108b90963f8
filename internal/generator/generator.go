// Package generator turns timer ticks into job sets. It owns the recurring
// timer, asks a Planner what work belongs to each boundary and submits the
// resulting set to the scheduler.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/engine"
	"microbeat/internal/monitor"
	"microbeat/internal/timer"
	"microbeat/internal/tracker"
	"microbeat/pkg/logx"
)

// Planner builds the jobs for one batch boundary. alloc is the per-stream
// record allocation for the boundary, dist the current distribution snapshot
// (may be nil).
type Planner interface {
	Plan(t clock.Time, alloc map[string]int64, dist *monitor.Table) ([]*engine.Job, error)
}

// PlanFunc adapts a function to the Planner interface.
type PlanFunc func(t clock.Time, alloc map[string]int64, dist *monitor.Table) ([]*engine.Job, error)

func (f PlanFunc) Plan(t clock.Time, alloc map[string]int64, dist *monitor.Table) ([]*engine.Job, error) {
	return f(t, alloc, dist)
}

// Submitter is the slice of the scheduler the generator needs.
type Submitter interface {
	SubmitJobSet(*engine.JobSet)
	ReportError(msg string, err error)
}

type Config struct {
	// Period is the batch interval. Must be positive.
	Period time.Duration
}

// Generator drives batch generation off the drift-free timer.
type Generator struct {
	cfg     Config
	clk     clock.Clock
	log     logx.Logger
	planner Planner
	inputs  *tracker.Inputs
	mon     engine.Monitor
	submit  Submitter

	mu        sync.Mutex
	tmr       *timer.RecurringTimer
	started   bool
	stopped   bool
	startTime clock.Time
}

func New(cfg Config, clk clock.Clock, planner Planner, inputs *tracker.Inputs, mon engine.Monitor, submit Submitter, log logx.Logger) *Generator {
	if cfg.Period <= 0 {
		panic("generator: period must be positive")
	}
	return &Generator{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		planner: planner,
		inputs:  inputs,
		mon:     mon,
		submit:  submit,
	}
}

// Start launches the timer. Idempotent.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	g.started = true
	g.tmr = timer.New(g.clk, g.cfg.Period, g.generate, "batch-generator", g.log)
	g.startTime = g.tmr.Start()
	g.log.Info("generator started",
		logx.Duration("period", g.cfg.Period),
		logx.Int64("first_batch", g.startTime.Milliseconds()))
	return nil
}

// StartTime returns the first batch boundary, zero before Start.
func (g *Generator) StartTime() clock.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startTime
}

// Stop halts tick generation. The timer wait is always interrupted; a tick
// callback already in flight still submits its set, which the scheduler's
// drain then covers. Idempotent.
func (g *Generator) Stop(drain bool) error {
	g.mu.Lock()
	if !g.started || g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	tmr := g.tmr
	g.mu.Unlock()

	last := tmr.Stop(true)
	g.log.Info("generator stopped",
		logx.Bool("drain", drain), logx.Int64("last_batch", last.Milliseconds()))
	return nil
}

// OnBatchCompletion clears per-boundary metadata once a set has fully
// completed, enabling upstream eviction.
func (g *Generator) OnBatchCompletion(t clock.Time) {
	g.inputs.Cleanup(t)
}

// generate runs on the timer goroutine once per boundary.
func (g *Generator) generate(t clock.Time) {
	alloc := g.inputs.Allocate(t)

	var dist *monitor.Table
	if g.mon != nil {
		dist = g.mon.Table()
	}

	jobs, err := g.planner.Plan(t, alloc, dist)
	if err != nil {
		g.submit.ReportError(fmt.Sprintf("plan batch %d", t.Milliseconds()), err)
		return
	}
	g.submit.SubmitJobSet(engine.NewJobSet(t, jobs))
}
