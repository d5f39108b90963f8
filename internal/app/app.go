// Package app wires the engine, workload, persistence and API together
// and owns their combined lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"microbeat/internal/api"
	"microbeat/internal/clock"
	"microbeat/internal/config"
	"microbeat/internal/engine"
	"microbeat/internal/eventbus"
	"microbeat/internal/generator"
	"microbeat/internal/metrics"
	"microbeat/internal/monitor"
	"microbeat/internal/runtime/supervisor"
	"microbeat/internal/store"
	"microbeat/internal/tracker"
	"microbeat/internal/workload"
	"microbeat/pkg/logx"
)

const (
	defaultPruneSchedule = "0 3 * * *"
	defaultKeepFor       = 7 * 24 * time.Hour
	pruneTimeout         = 30 * time.Second
	stopTimeout          = 10 * time.Second
)

type App struct {
	mgr  *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus       eventbus.Bus
	met       *metrics.Engine
	inputs    *tracker.Inputs
	receivers *tracker.Receivers
	mon       *monitor.InMemory
	sched     *engine.Scheduler
	gen       *generator.Generator
	emitter   *workload.Emitter

	st       store.Store
	recorder *store.Recorder
	apiSrv   *api.Server
	cron     *cron.Cron

	sup *supervisor.Supervisor

	drainOnStop bool

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds the full component graph from the committed config.
func New(mgr *config.Manager, logs *logx.Service, log logx.Logger) (*App, error) {
	cfg := mgr.Get()
	if cfg == nil {
		return nil, errors.New("app: config not loaded")
	}

	a := &App{
		mgr:         mgr,
		logs:        logs,
		log:         log,
		bus:         eventbus.New(),
		met:         metrics.NewEngine(),
		drainOnStop: cfg.Engine.DrainOnStop,
	}

	a.inputs = tracker.NewInputs(log.With(logx.String("component", "inputs")))
	a.receivers = tracker.NewReceivers(log.With(logx.String("component", "receivers")))

	streams := workload.FromConfig(cfg.Streams)
	a.mon = monitor.NewInMemory(workload.Weights(streams))

	engCfg := engine.Config{
		Concurrency:  cfg.Engine.Concurrency,
		DrainTimeout: config.DurationOrDefault(cfg.Engine.DrainTimeout, 0),
		StopTimeout:  config.DurationOrDefault(cfg.Engine.StopTimeout, 0),
	}
	planner := workload.NewPlanner(streams, log.With(logx.String("component", "planner")))
	clk := clock.System()

	// The generator needs the scheduler as submitter and the scheduler
	// needs the generator as a collaborator; build both then link.
	col := engine.Collaborators{Inputs: a.inputs, Receivers: a.receivers, Monitor: a.mon}
	a.sched = engine.NewScheduler(engCfg, clk, col, a.bus, a.met,
		log.With(logx.String("component", "scheduler")))
	a.gen = generator.New(generator.Config{Period: cfg.Period()}, clk, planner,
		a.inputs, a.mon, a.sched, log.With(logx.String("component", "generator")))
	a.sched.SetGenerator(a.gen)

	a.emitter = workload.NewEmitter(streams, a.inputs, a.receivers,
		log.With(logx.String("component", "emitter")))

	if cfg.Store != nil {
		st, err := store.Open(store.Config{
			Driver:      cfg.Store.Driver,
			Path:        cfg.Store.Path,
			BusyTimeout: config.DurationOrDefault(cfg.Store.BusyTimeout, 0),
		}, log.With(logx.String("component", "store")))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.st = st
	}
	if a.st != nil {
		a.recorder = store.NewRecorder(a.st, a.bus, log.With(logx.String("component", "recorder")))
	}

	if cfg.API != nil && cfg.API.Enabled {
		a.apiSrv = api.NewServer(api.Config{Listen: cfg.API.Listen, Pprof: cfg.API.Pprof}, api.Deps{
			Scheduler: a.sched,
			Receivers: a.receivers,
			Metrics:   a.met,
			Store:     a.st,
		}, log.With(logx.String("component", "api")))
	}

	return a, nil
}

// Waiter exposes the scheduler's fatal-error waiter for the caller's
// run loop.
func (a *App) Waiter() *engine.Waiter { return a.sched.Waiter() }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if a.recorder != nil {
		a.recorder.Start()
	}
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := a.emitter.Start(ctx); err != nil {
		return fmt.Errorf("start emitter: %w", err)
	}
	if a.apiSrv != nil {
		a.apiSrv.Start()
	}
	a.startPrune()

	a.sup.Go("config-watch", func(ctx context.Context) error {
		return a.mgr.Watch(ctx)
	})
	a.sup.Go0("config-apply", a.applyReloads)

	a.log.Info("app started")
	return nil
}

// Stop shuts components down in dependency order. Idempotent.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.stopped {
		return
	}
	a.stopped = true

	a.emitter.Stop()
	if err := a.sched.Stop(a.drainOnStop); err != nil {
		a.log.Warn("scheduler stop", logx.Err(err))
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.apiSrv != nil {
		a.apiSrv.Stop()
	}
	if a.recorder != nil {
		a.recorder.Stop()
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			a.log.Warn("store close", logx.Err(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := a.sup.Stop(ctx); err != nil {
		a.log.Warn("supervisor stop", logx.Err(err))
	}
	a.log.Info("app stopped")
}

// startPrune schedules batch-history pruning when both a store and a
// prune config are present.
func (a *App) startPrune() {
	cfg := a.mgr.Get()
	if a.st == nil || cfg.Prune == nil {
		return
	}
	schedule := cfg.Prune.Schedule
	if schedule == "" {
		schedule = defaultPruneSchedule
	}
	keep := config.DurationOrDefault(cfg.Prune.KeepFor, defaultKeepFor)

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		cutoff := clock.Now().Add(-keep)
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if _, err := a.st.PruneBefore(ctx, cutoff); err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
		}
	})
	if err != nil {
		a.log.Warn("invalid prune schedule",
			logx.String("schedule", schedule), logx.Err(err))
		return
	}
	c.Start()
	a.cron = c
}

// applyReloads consumes config updates while running. Only logging
// changes take effect live; engine topology changes need a restart.
func (a *App) applyReloads(ctx context.Context) {
	ch := a.mgr.Subscribe(4)
	defer a.mgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.ConsoleEnabled(),
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied",
				logx.String("level", cfg.Logging.Level))
		}
	}
}
