package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"microbeat/internal/clock"
	"microbeat/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    time_ms             INTEGER PRIMARY KEY,
    submitted_ms        INTEGER NOT NULL,
    started_ms          INTEGER NOT NULL DEFAULT 0,
    completed_ms        INTEGER NOT NULL DEFAULT 0,
    num_jobs            INTEGER NOT NULL,
    failed_jobs         INTEGER NOT NULL DEFAULT 0,
    total_records       INTEGER NOT NULL DEFAULT 0,
    processing_delay_ms INTEGER NOT NULL DEFAULT 0,
    total_delay_ms      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_batches_completed ON batches(completed_ms);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) AppendBatch(ctx context.Context, r BatchRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches(time_ms, submitted_ms, started_ms, completed_ms,
		                     num_jobs, failed_jobs, total_records,
		                     processing_delay_ms, total_delay_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(time_ms) DO UPDATE SET
		     completed_ms=excluded.completed_ms,
		     failed_jobs=excluded.failed_jobs,
		     processing_delay_ms=excluded.processing_delay_ms,
		     total_delay_ms=excluded.total_delay_ms`,
		int64(r.Time), int64(r.SubmittedAt), int64(r.StartedAt), int64(r.CompletedAt),
		r.NumJobs, r.FailedJobs, r.TotalRecords,
		r.ProcessingDelay.Milliseconds(), r.TotalDelay.Milliseconds(),
	)
	return err
}

func (s *sqliteStore) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_ms, submitted_ms, started_ms, completed_ms,
		        num_jobs, failed_jobs, total_records,
		        processing_delay_ms, total_delay_ms
		 FROM batches ORDER BY time_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var r BatchRecord
		var timeMS, subMS, startMS, compMS, procMS, totalMS int64
		if err := rows.Scan(&timeMS, &subMS, &startMS, &compMS,
			&r.NumJobs, &r.FailedJobs, &r.TotalRecords, &procMS, &totalMS); err != nil {
			return nil, err
		}
		r.Time = clock.Time(timeMS)
		r.SubmittedAt = clock.Time(subMS)
		r.StartedAt = clock.Time(startMS)
		r.CompletedAt = clock.Time(compMS)
		r.ProcessingDelay = time.Duration(procMS) * time.Millisecond
		r.TotalDelay = time.Duration(totalMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff clock.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE time_ms < ?`, int64(cutoff))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("pruned batch history", logx.Int64("rows", n))
	}
	return n, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
