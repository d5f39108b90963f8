package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/engine"
	"microbeat/internal/eventbus"
	"microbeat/internal/metrics"
	"microbeat/internal/store"
	"microbeat/internal/tracker"
	"microbeat/pkg/logx"
)

type fakeStore struct {
	store.Store
	batches []store.BatchRecord
	err     error
}

func (f *fakeStore) RecentBatches(ctx context.Context, limit int) ([]store.BatchRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.batches) {
		return f.batches[:limit], nil
	}
	return f.batches, nil
}

func newTestServer(t *testing.T, st store.Store) (*Server, *engine.Scheduler) {
	return newTestServerCfg(t, Config{Listen: ":0"}, st)
}

func newTestServerCfg(t *testing.T, cfg Config, st store.Store) (*Server, *engine.Scheduler) {
	t.Helper()
	sched := engine.NewScheduler(engine.Config{}, clock.NewManual(0), engine.Collaborators{},
		eventbus.New(), metrics.NewEngine(), logx.Nop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop(false) })

	receivers := tracker.NewReceivers(logx.Nop())
	if err := receivers.Start(); err != nil {
		t.Fatalf("receivers start: %v", err)
	}
	return NewServer(cfg, Deps{
		Scheduler: sched,
		Receivers: receivers,
		Metrics:   metrics.NewEngine(),
		Store:     st,
	}, logx.Nop()), sched
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, sched := newTestServer(t, nil)

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	// The error is routed through the event loop; poll until it lands.
	sched.ReportError("ingest", context.DeadlineExceeded)
	deadline := time.After(2 * time.Second)
	for sched.Waiter().Err() == nil {
		select {
		case <-deadline:
			t.Fatal("fatal error never surfaced")
		case <-time.After(5 * time.Millisecond):
		}
	}
	rec = get(t, s, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503 after fatal error", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := get(t, s, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var resp struct {
		PendingTimes []int64 `json:"pending_times"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingTimes == nil {
		t.Fatal("pending_times must be [] not null")
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()
	st := &fakeStore{batches: []store.BatchRecord{
		{Time: 2000, NumJobs: 1},
		{Time: 1000, NumJobs: 2},
	}}
	s, _ := newTestServer(t, st)

	rec := get(t, s, "/v1/batches?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var resp struct {
		Batches []store.BatchRecord `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Batches) != 1 || resp.Batches[0].Time != 2000 {
		t.Fatalf("batches = %+v", resp.Batches)
	}

	if rec := get(t, s, "/v1/batches?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d, want 400", rec.Code)
	}
}

func TestBatchesDisabled(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	if rec := get(t, s, "/v1/batches"); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404 when history disabled", rec.Code)
	}
}

func TestPprofMount(t *testing.T) {
	t.Parallel()
	s, _ := newTestServerCfg(t, Config{Listen: ":0", Pprof: true}, nil)
	if rec := get(t, s, "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof index code = %d, want 200 when enabled", rec.Code)
	}
	if rec := get(t, s, "/debug/pprof/goroutine"); rec.Code != http.StatusOK {
		t.Fatalf("goroutine profile code = %d, want 200", rec.Code)
	}

	off, _ := newTestServer(t, nil)
	if rec := get(t, off, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof index code = %d, want 404 when disabled", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	if rec := get(t, s, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}
