package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the daemon's on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`

	// Streams configures the synthetic workload sources the planner turns
	// into per-batch jobs.
	Streams []StreamConfig `json:"streams,omitempty"`

	Store *StoreConfig `json:"store,omitempty"`
	API   *APIConfig   `json:"api,omitempty"`
	Prune *PruneConfig `json:"prune,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console *bool      `json:"console,omitempty"` // nil means enabled
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// EngineConfig controls the scheduler core.
type EngineConfig struct {
	// Period is the batch interval. Required, must be positive.
	Period string `json:"period"`

	// Concurrency is the worker pool size. Defaults to 1.
	Concurrency int `json:"concurrency,omitempty"`

	// DrainOnStop makes shutdown wait for submitted batches to finish.
	DrainOnStop bool `json:"drain_on_stop,omitempty"`

	DrainTimeout string `json:"drain_timeout,omitempty"`
	StopTimeout  string `json:"stop_timeout,omitempty"`
}

// StreamConfig describes one synthetic input stream.
type StreamConfig struct {
	Name string `json:"name"`

	// RatePerSec is how many records the stream emits per second.
	RatePerSec int64 `json:"rate_per_sec"`

	// CostPerRecord is the simulated processing time per record.
	CostPerRecord string `json:"cost_per_record,omitempty"`

	// Weight feeds the load-distribution table. Defaults to 1.
	Weight float64 `json:"weight,omitempty"`

	// FailEvery makes every Nth batch job of this stream fail, for
	// exercising the error path. 0 disables.
	FailEvery int `json:"fail_every,omitempty"`
}

// StoreConfig controls the optional batch-history persistence.
type StoreConfig struct {
	Driver      string `json:"driver"` // "none" or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty"` // default ":8980"

	// Pprof exposes net/http/pprof on the same listener. Keep the
	// listener loopback-bound when enabling this.
	Pprof bool `json:"pprof,omitempty"`
}

// PruneConfig schedules history pruning on a wall-clock cron spec.
type PruneConfig struct {
	Schedule string `json:"schedule,omitempty"` // default "0 3 * * *"
	KeepFor  string `json:"keep_for,omitempty"` // default "168h"
}

// Validate checks the parts that cannot be defaulted away.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	period, err := ParseDurationField("engine.period", c.Engine.Period)
	if err != nil {
		return err
	}
	if period <= 0 {
		return errors.New("engine.period is required and must be positive")
	}
	if c.Engine.Concurrency < 0 {
		return errors.New("engine.concurrency must be >= 0")
	}
	seen := map[string]bool{}
	for i, s := range c.Streams {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("streams[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("streams[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if s.RatePerSec < 0 {
			return fmt.Errorf("streams[%d]: rate_per_sec must be >= 0", i)
		}
		if _, err := ParseDurationField(fmt.Sprintf("streams[%d].cost_per_record", i), s.CostPerRecord); err != nil {
			return err
		}
		if s.Weight < 0 {
			return fmt.Errorf("streams[%d]: weight must be >= 0", i)
		}
	}
	if c.Store != nil {
		switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
		}
		if _, err := ParseDurationField("store.busy_timeout", c.Store.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Prune != nil {
		if _, err := ParseDurationField("prune.keep_for", c.Prune.KeepFor); err != nil {
			return err
		}
	}
	return nil
}

// Period returns the parsed batch interval. Call Validate first.
func (c *Config) Period() time.Duration {
	d, _ := ParseDurationField("engine.period", c.Engine.Period)
	return d
}

// ConsoleEnabled resolves the tri-state console flag.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}
