package engine

import (
	"context"
	"testing"
	"time"
)

func TestJobSetCompletionAccounting(t *testing.T) {
	t.Parallel()

	jobs := []*Job{
		NewJob(1000, 0, func(context.Context) error { return nil }),
		NewJob(1000, 1, func(context.Context) error { return nil }),
	}
	set := NewJobSet(1000, jobs)

	if set.HasStarted() || set.HasCompleted() {
		t.Fatal("fresh set must be neither started nor completed")
	}

	set.handleStart(1200)
	if !set.HasStarted() {
		t.Fatal("set should be started after first job start")
	}
	set.handleStart(1250)

	set.handleCompletion(1400)
	if set.HasCompleted() {
		t.Fatal("set completed with one job outstanding")
	}
	set.handleCompletion(1700)
	if !set.HasCompleted() {
		t.Fatal("set should be completed")
	}

	if got := set.ProcessingDelay(); got != 500*time.Millisecond {
		t.Fatalf("ProcessingDelay = %v, want 500ms", got)
	}
	if got := set.TotalDelay(); got != 700*time.Millisecond {
		t.Fatalf("TotalDelay = %v, want 700ms", got)
	}
}

func TestNewJobSetOrdersByOutputOp(t *testing.T) {
	t.Parallel()

	a := NewJob(1000, 3, nil)
	b := NewJob(1000, 1, nil)
	c := NewJob(1000, 2, nil)
	set := NewJobSet(1000, []*Job{a, b, c})

	want := []int{1, 2, 3}
	for i, j := range set.Jobs() {
		if j.OutputOpID() != want[i] {
			t.Fatalf("job %d has op %d, want %d", i, j.OutputOpID(), want[i])
		}
	}
}

func TestJobRunOnce(t *testing.T) {
	t.Parallel()

	runs := 0
	j := NewJob(1000, 0, func(context.Context) error { runs++; return nil })
	j.run(context.Background())
	if runs != 1 {
		t.Fatalf("action ran %d times", runs)
	}
	if err, ok := j.Result(); !ok || err != nil {
		t.Fatalf("Result = (%v, %v), want (nil, true)", err, ok)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second run")
		}
	}()
	j.run(context.Background())
}
