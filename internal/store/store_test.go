package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/engine"
	"microbeat/internal/eventbus"
	"microbeat/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "batches.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := BatchRecord{
			Time:         clock.Time(1000 * (i + 1)),
			SubmittedAt:  clock.Time(1000*(i+1) + 5),
			CompletedAt:  clock.Time(1000*(i+1) + 50),
			NumJobs:      2,
			TotalRecords: int64(10 * i),
			TotalDelay:   50 * time.Millisecond,
		}
		if err := st.AppendBatch(ctx, r); err != nil {
			t.Fatalf("AppendBatch: %v", err)
		}
	}

	got, err := st.RecentBatches(ctx, 2)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Time != 3000 || got[1].Time != 2000 {
		t.Fatalf("order = [%v %v], want newest first", got[0].Time, got[1].Time)
	}
	if got[0].TotalDelay != 50*time.Millisecond {
		t.Fatalf("total delay = %v", got[0].TotalDelay)
	}
}

func TestAppendUpsertsSameBoundary(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	r := BatchRecord{Time: 1000, NumJobs: 1}
	if err := st.AppendBatch(ctx, r); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	r.FailedJobs = 1
	r.CompletedAt = 1200
	if err := st.AppendBatch(ctx, r); err != nil {
		t.Fatalf("AppendBatch (again): %v", err)
	}

	got, err := st.RecentBatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(got) != 1 || got[0].FailedJobs != 1 || got[0].CompletedAt != 1200 {
		t.Fatalf("got %+v", got)
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, tm := range []clock.Time{1000, 2000, 3000} {
		if err := st.AppendBatch(ctx, BatchRecord{Time: tm, NumJobs: 1}); err != nil {
			t.Fatalf("AppendBatch: %v", err)
		}
	}
	n, err := st.PruneBefore(ctx, 2500)
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}
	got, _ := st.RecentBatches(ctx, 10)
	if len(got) != 1 || got[0].Time != 3000 {
		t.Fatalf("got %+v", got)
	}
}

func TestRecorderBoundsFailureTracking(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(nil, eventbus.New(), logx.Nop())

	for i := 0; i < maxFailureEntries+20; i++ {
		rec.trackFailure(clock.Time(1000 * (i + 1)))
	}
	if len(rec.failures) != maxFailureEntries {
		t.Fatalf("len(failures) = %d, want %d", len(rec.failures), maxFailureEntries)
	}
	if _, ok := rec.failures[1000]; ok {
		t.Fatal("oldest boundary should have been evicted")
	}
	newest := clock.Time(1000 * (maxFailureEntries + 20))
	if rec.failures[newest] != 1 {
		t.Fatalf("newest boundary count = %d, want 1", rec.failures[newest])
	}
}

func TestRecorderWritesCompletions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	bus := eventbus.New()

	rec := NewRecorder(st, bus, logx.Nop())
	rec.Start()

	bus.Publish(eventbus.Event{Type: engine.EventJobFailed, Data: engine.JobFailure{
		Time: 1000, JobID: "job 1000.0", Error: "boom",
	}})
	bus.Publish(eventbus.Event{Type: engine.EventBatchCompleted, Data: engine.BatchInfo{
		Time: 1000, NumJobs: 3, TotalRecords: 42, CompletedAt: 1100,
	}})
	rec.Stop()

	got, err := st.RecentBatches(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].FailedJobs != 1 || got[0].TotalRecords != 42 {
		t.Fatalf("got %+v", got[0])
	}
}
