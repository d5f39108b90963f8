package engine

import "sync"

// queue is an unbounded FIFO with blocking pop.
//
// It backs both the event mailbox and the worker intake. Unbounded on
// purpose: completion events must never be dropped and a full mailbox must
// never block a worker, otherwise completion detection deadlocks.
type queue[T any] struct {
	mu     sync.Mutex
	notEmp *sync.Cond
	items  []T
	closed bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.notEmp = sync.NewCond(&q.mu)
	return q
}

// push appends v and reports whether the queue accepted it (false after close).
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.notEmp.Signal()
	return true
}

// pop blocks until an item is available or the queue is closed and drained.
// Items pushed before close are still delivered.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmp.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero // release the reference
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.notEmp.Broadcast()
	q.mu.Unlock()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
