// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine holds the scheduler's collectors. A nil *Engine is a no-op so the
// scheduler can run unmetered in tests.
type Engine struct {
	reg *prometheus.Registry

	batchesSubmitted prometheus.Counter
	batchesCompleted prometheus.Counter
	jobsCompleted    prometheus.Counter
	jobsFailed       prometheus.Counter

	pendingSets prometheus.Gauge
	runningJobs prometheus.Gauge

	jobDuration     prometheus.Histogram
	totalDelay      prometheus.Histogram
	processingDelay prometheus.Histogram
	batchRecords    prometheus.Histogram
}

// NewEngine builds the collectors on their own registry.
func NewEngine() *Engine {
	e := &Engine{
		reg: prometheus.NewRegistry(),
		batchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microbeat_batches_submitted_total",
			Help: "Total number of non-empty job sets submitted",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microbeat_batches_completed_total",
			Help: "Total number of job sets that fully completed",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microbeat_jobs_completed_total",
			Help: "Total number of jobs that finished successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microbeat_jobs_failed_total",
			Help: "Total number of jobs that finished with an error",
		}),
		pendingSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microbeat_pending_sets",
			Help: "Job sets currently registered and not yet complete",
		}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microbeat_running_jobs",
			Help: "Jobs currently executing on the worker pool",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "microbeat_job_duration_seconds",
			Help:    "Per-job execution time",
			Buckets: prometheus.DefBuckets,
		}),
		totalDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "microbeat_batch_total_delay_seconds",
			Help:    "Last completion minus nominal batch boundary",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		processingDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "microbeat_batch_processing_delay_seconds",
			Help:    "Last completion minus first job start",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		batchRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "microbeat_batch_records",
			Help:    "Input records per completed batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	e.reg.MustRegister(
		e.batchesSubmitted, e.batchesCompleted,
		e.jobsCompleted, e.jobsFailed,
		e.pendingSets, e.runningJobs,
		e.jobDuration, e.totalDelay, e.processingDelay, e.batchRecords,
	)
	return e
}

// Registry returns the registry to mount on /metrics.
func (e *Engine) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.reg
}

func (e *Engine) BatchSubmitted() {
	if e == nil {
		return
	}
	e.batchesSubmitted.Inc()
	e.pendingSets.Inc()
}

func (e *Engine) JobStarted() {
	if e == nil {
		return
	}
	e.runningJobs.Inc()
}

func (e *Engine) JobFinished(d time.Duration, failed bool) {
	if e == nil {
		return
	}
	e.runningJobs.Dec()
	e.jobDuration.Observe(d.Seconds())
	if failed {
		e.jobsFailed.Inc()
	} else {
		e.jobsCompleted.Inc()
	}
}

func (e *Engine) BatchCompleted(totalDelay, processingDelay time.Duration, records int64) {
	if e == nil {
		return
	}
	e.pendingSets.Dec()
	e.batchesCompleted.Inc()
	e.totalDelay.Observe(totalDelay.Seconds())
	e.processingDelay.Observe(processingDelay.Seconds())
	e.batchRecords.Observe(float64(records))
}
