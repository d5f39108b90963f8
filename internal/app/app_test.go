package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"microbeat/internal/config"
	"microbeat/internal/runtime/supervisor"
	"microbeat/internal/store"
	"microbeat/pkg/logx"
)

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "batches.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgBody := `
logging:
  level: error
  console: false
engine:
  period: 50ms
  concurrency: 2
  drain_on_stop: true
streams:
  - name: clicks
    rate_per_sec: 100
store:
  driver: sqlite
  path: ` + dbPath + `
`
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	logs, log := logx.New(logx.Config{Level: "error"})
	defer logs.Close()

	a, err := New(mgr, logs, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let a few batch boundaries pass.
	time.Sleep(400 * time.Millisecond)
	a.Stop()
	a.Stop() // idempotent

	if err := a.Waiter().Err(); err != nil {
		t.Fatalf("engine reported fatal error: %v", err)
	}

	// The store was closed by Stop; reopen and check history landed.
	st, err := store.Open(store.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	batches, err := st.RecentBatches(context.Background(), 50)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(batches) == 0 {
		t.Fatal("no batches recorded")
	}
	for _, b := range batches {
		if int64(b.Time)%50 != 0 {
			t.Fatalf("batch time %v is off the 50ms grid", b.Time)
		}
	}
}

// Stop must tear down whatever a failed Start left running: main calls
// Stop on the Start error path and relies on it cleaning up partial state.
func TestStopCleansUpPartialStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgBody := `
engine:
  period: 1h
`
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	logs, log := logx.New(logx.Config{})
	defer logs.Close()

	a, err := New(mgr, logs, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Reproduce the state Start leaves behind when it errors after the
	// scheduler came up but before the later components did.
	ctx := context.Background()
	a.started = true
	a.sup = supervisor.New(ctx)
	if err := a.sched.Start(ctx); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}

	a.Stop()

	// The scheduler must have been stopped: its waiter reports a clean stop.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Waiter().Wait(wctx); err != nil {
		t.Fatalf("waiter after Stop: %v", err)
	}
	a.Stop() // still idempotent
}

func TestAppRequiresLoadedConfig(t *testing.T) {
	t.Parallel()
	logs, log := logx.New(logx.Config{})
	defer logs.Close()
	if _, err := New(config.NewManager("missing.yaml"), logs, log); err == nil {
		t.Fatal("expected error when config was never loaded")
	}
}
