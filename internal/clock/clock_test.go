package clock

import (
	"context"
	"testing"
	"time"
)

func TestTimeArithmetic(t *testing.T) {
	t.Parallel()

	tm := Time(1500)
	if got := tm.Add(500 * time.Millisecond); got != Time(2000) {
		t.Fatalf("Add = %v, want 2000", got)
	}
	if got := tm.Since(Time(1000)); got != 500*time.Millisecond {
		t.Fatalf("Since = %v, want 500ms", got)
	}
	if !Time(2000).IsMultipleOf(time.Second) {
		t.Fatal("2000 should be a multiple of 1s")
	}
	if Time(1500).IsMultipleOf(time.Second) {
		t.Fatal("1500 should not be a multiple of 1s")
	}
}

func TestTimeFloor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     Time
		period time.Duration
		want   Time
	}{
		{in: 0, period: time.Second, want: 0},
		{in: 999, period: time.Second, want: 0},
		{in: 1000, period: time.Second, want: 1000},
		{in: 1001, period: time.Second, want: 1000},
		{in: -1, period: time.Second, want: -1000},
	}
	for _, tt := range tests {
		if got := tt.in.Floor(tt.period); got != tt.want {
			t.Fatalf("Floor(%d, %v) = %d, want %d", tt.in, tt.period, got, tt.want)
		}
	}
}

func TestManualWaitUntil(t *testing.T) {
	t.Parallel()

	c := NewManual(0)
	done := make(chan Time, 1)
	go func() {
		got, err := c.WaitUntil(context.Background(), 100)
		if err != nil {
			t.Errorf("WaitUntil error: %v", err)
		}
		done <- got
	}()

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-done:
		t.Fatalf("waiter woke early at %v", got)
	case <-time.After(20 * time.Millisecond):
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-done:
		if got < 100 {
			t.Fatalf("woke at %v, want >= 100", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestManualWaitUntilCancel(t *testing.T) {
	t.Parallel()

	c := NewManual(0)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.WaitUntil(ctx, 1000)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}
}

func TestSystemWaitUntilPast(t *testing.T) {
	t.Parallel()

	c := System()
	target := c.Now() - 1000
	got, err := c.WaitUntil(context.Background(), target)
	if err != nil {
		t.Fatalf("WaitUntil error: %v", err)
	}
	if got < target {
		t.Fatalf("returned %v before target %v", got, target)
	}
}
