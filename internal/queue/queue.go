// Package queue provides the bounded buffer the SQL sink batches rows in.
package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO with an optional capacity. When full, the
// oldest items are evicted to make room for new ones.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
}

// New creates an empty queue. A limit <= 0 means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends items and returns how many old items were evicted.
func (q *Queue[T]) Push(items ...T) (evicted int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.limit > 0 && len(q.items) > q.limit {
		evicted = len(q.items) - q.limit
		q.items = append(q.items[:0:0], q.items[evicted:]...)
	}
	return evicted
}

// Pop removes and returns the first item; ok is false when empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue has no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Drain returns all items in order and leaves the queue empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Requeue puts items back at the front, e.g. after a failed flush. Items
// beyond the limit are evicted from the front as in Push.
func (q *Queue[T]) Requeue(items []T) (evicted int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	if q.limit > 0 && len(q.items) > q.limit {
		evicted = len(q.items) - q.limit
		q.items = q.items[evicted:]
	}
	return evicted
}
