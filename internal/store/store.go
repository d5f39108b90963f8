// Package store persists batch history for the status API and for
// post-hoc inspection. It is optional; the engine runs without it.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"microbeat/internal/clock"
	"microbeat/pkg/logx"
)

var ErrDisabled = errors.New("store disabled")

// Config configures persistence.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// BatchRecord is one completed (or failed) batch boundary.
type BatchRecord struct {
	Time        clock.Time `json:"time"`
	SubmittedAt clock.Time `json:"submitted_at"`
	StartedAt   clock.Time `json:"started_at,omitempty"`
	CompletedAt clock.Time `json:"completed_at,omitempty"`

	NumJobs      int   `json:"num_jobs"`
	FailedJobs   int   `json:"failed_jobs,omitempty"`
	TotalRecords int64 `json:"total_records"`

	ProcessingDelay time.Duration `json:"processing_delay,omitempty"`
	TotalDelay      time.Duration `json:"total_delay,omitempty"`
}

// Store is the persistence API used by the app and the status API.
type Store interface {
	AppendBatch(ctx context.Context, r BatchRecord) error
	RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	PruneBefore(ctx context.Context, cutoff clock.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
