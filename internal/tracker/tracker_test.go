package tracker

import (
	"errors"
	"testing"

	"microbeat/pkg/logx"
)

func TestInputsAllocate(t *testing.T) {
	t.Parallel()

	in := NewInputs(logx.Nop())
	if err := in.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	in.Record("a", 10)
	in.Record("b", 5)
	in.Record("a", 2)

	alloc := in.Allocate(1000)
	if alloc["a"] != 12 || alloc["b"] != 5 {
		t.Fatalf("alloc = %v, want a=12 b=5", alloc)
	}
	if got := in.TotalSizeOf(1000); got != 17 {
		t.Fatalf("TotalSizeOf(1000) = %d, want 17", got)
	}

	// Post-allocation records belong to the next boundary.
	in.Record("a", 3)
	if got := in.TotalSizeOf(1000); got != 17 {
		t.Fatalf("TotalSizeOf(1000) changed to %d after new records", got)
	}
	alloc = in.Allocate(2000)
	if alloc["a"] != 3 {
		t.Fatalf("second alloc = %v, want a=3", alloc)
	}

	in.Cleanup(1000)
	if got := in.TotalSizeOf(1000); got != 0 {
		t.Fatalf("TotalSizeOf(1000) = %d after cleanup, want 0", got)
	}
	if got := in.TotalSizeOf(2000); got != 3 {
		t.Fatalf("TotalSizeOf(2000) = %d, want 3", got)
	}
}

func TestInputsDropWhileStopped(t *testing.T) {
	t.Parallel()

	in := NewInputs(logx.Nop())
	in.Record("a", 10)
	if alloc := in.Allocate(1000); len(alloc) != 0 {
		t.Fatalf("records accepted before Start: %v", alloc)
	}
}

func TestReceiversIntake(t *testing.T) {
	t.Parallel()

	r := NewReceivers(logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Register("r1", "clicks"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("r2", "views"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := r.Active(); len(got) != 2 || got[0].ID != "r1" {
		t.Fatalf("Active = %v", got)
	}

	r.StopIntake()
	if err := r.Register("r3", "late"); !errors.Is(err, ErrIntakeStopped) {
		t.Fatalf("Register after StopIntake = %v, want ErrIntakeStopped", err)
	}
	// Existing receivers stay active until Stop.
	if got := r.Active(); len(got) != 2 {
		t.Fatalf("Active after StopIntake = %v", got)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := r.Active(); len(got) != 0 {
		t.Fatalf("Active after Stop = %v", got)
	}
}
