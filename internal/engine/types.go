package engine

import (
	"context"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/monitor"
)

// Config controls the scheduler core.
type Config struct {
	// Concurrency is the worker pool size. Defaults to 1, which also gives
	// deterministic in-set execution order.
	Concurrency int

	// DrainTimeout bounds how long Stop(drain=true) waits for submitted
	// sets and running jobs. Defaults to 1 hour.
	DrainTimeout time.Duration

	// StopTimeout bounds the non-draining pool shutdown before remaining
	// work is forcefully cancelled. Defaults to 2 seconds.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = time.Hour
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
	return c
}

// Generator decides what work belongs to each batch boundary and submits it.
// The scheduler starts and stops it in lockstep with itself and notifies it
// when a boundary's set has fully completed.
type Generator interface {
	Start(ctx context.Context) error
	// Stop stops tick generation. When drain is true it blocks until all
	// already-submitted sets have finished (bounded by the caller).
	Stop(drain bool) error
	OnBatchCompletion(t clock.Time)
}

// InputTracker tracks per-boundary input sizes for live data sources.
type InputTracker interface {
	Start() error
	Stop() error
	TotalSizeOf(t clock.Time) int64
}

// ReceiverTracker tracks active data-receiving workers. Intake is stopped
// first during shutdown so no new data arrives while draining.
type ReceiverTracker interface {
	Start() error
	StopIntake()
	Stop() error
}

// Monitor supplies the current load-distribution table and learns when a
// boundary's set has finished.
type Monitor interface {
	Table() *monitor.Table
	NotifyBatchFinished(t clock.Time)
}

// Event bus types published for external batch-lifecycle observers.
const (
	EventBatchStarted   = "batch_started"
	EventBatchCompleted = "batch_completed"
	EventJobFailed      = "job_failed"
)

// BatchInfo is the snapshot carried by batch lifecycle notifications.
type BatchInfo struct {
	Time        clock.Time `json:"time"`
	SubmittedAt clock.Time `json:"submitted_at"`
	StartedAt   clock.Time `json:"started_at,omitempty"`
	CompletedAt clock.Time `json:"completed_at,omitempty"`

	NumJobs      int   `json:"num_jobs"`
	TotalRecords int64 `json:"total_records"`

	// DistVersion is the version of the load-distribution table snapshot
	// captured when the set was submitted. Zero when no monitor is wired.
	DistVersion uint64 `json:"dist_version,omitempty"`

	ProcessingDelay time.Duration `json:"processing_delay,omitempty"`
	TotalDelay      time.Duration `json:"total_delay,omitempty"`
}

// JobFailure is the payload of EventJobFailed notifications.
type JobFailure struct {
	Time  clock.Time `json:"time"`
	JobID string     `json:"job_id"`
	Error string     `json:"error"`
}
