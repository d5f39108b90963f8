package engine

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := newQueue[int]()
	for i := 0; i < 5; i++ {
		if !q.push(i) {
			t.Fatalf("push(%d) rejected", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := q.pop()
		if !ok || v != i {
			t.Fatalf("pop = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := newQueue[string]()
	q.push("a")
	q.push("b")
	q.close()

	if q.push("c") {
		t.Fatal("push accepted after close")
	}
	if v, ok := q.pop(); !ok || v != "a" {
		t.Fatalf("pop = (%q, %v), want (a, true)", v, ok)
	}
	if v, ok := q.pop(); !ok || v != "b" {
		t.Fatalf("pop = (%q, %v), want (b, true)", v, ok)
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop returned ok on closed empty queue")
	}
}

func TestQueueBlockingPop(t *testing.T) {
	t.Parallel()

	q := newQueue[int]()
	got := make(chan int, 1)
	go func() {
		v, _ := q.pop()
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("pop returned %d from empty queue", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.push(42)
	select {
	case v := <-got:
		if v != 42 {
			t.Fatalf("pop = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never woke")
	}
}
