// Package keyedqueue holds independent FIFO queues addressed by key.
package keyedqueue

import (
	"cmp"
	"slices"
	"sync"
)

// Queue is a set of FIFO sequences, one per key. Order is kept within a key
// only. Sub-queues are created on first insert and are never removed, an
// emptied key simply reports empty. A Queue is safe for concurrent use.
type Queue[K cmp.Ordered, T any] struct {
	mu    sync.Mutex
	items map[K][]T
}

func New[K cmp.Ordered, T any]() *Queue[K, T] {
	return &Queue[K, T]{items: make(map[K][]T)}
}

// Enqueue appends v to the end of key's queue.
func (q *Queue[K, T]) Enqueue(key K, v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items[key] = append(q.items[key], v)
}

// DequeueOne removes and returns the oldest element of key's queue. ok is
// false when the queue is empty.
func (q *Queue[K, T]) DequeueOne(key K) (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items[key]
	if len(items) == 0 {
		return v, false
	}
	v = items[0]
	var zero T
	items[0] = zero
	q.items[key] = items[1:]
	return v, true
}

// DrainUntil scans key's queue from oldest to newest. On the first element
// matching pred it removes and returns every element up to and including the
// match, oldest first. Without a match found is false and the queue is left
// untouched.
func (q *Queue[K, T]) DrainUntil(key K, pred func(T) bool) (drained []T, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items[key]
	for i, v := range items {
		if !pred(v) {
			continue
		}
		drained = append([]T(nil), items[:i+1]...)
		q.items[key] = append(items[:0:0], items[i+1:]...)
		return drained, true
	}
	return nil, false
}

// DrainAll removes and returns every element of key's queue, oldest first.
func (q *Queue[K, T]) DrainAll(key K) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items[key]
	if len(items) == 0 {
		return nil
	}
	q.items[key] = nil
	return items
}

// RemoveFunc removes every element of key's queue matching pred and returns
// them in queue order. The remaining elements keep their order.
func (q *Queue[K, T]) RemoveFunc(key K, pred func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed, kept []T
	for _, v := range q.items[key] {
		if pred(v) {
			removed = append(removed, v)
		} else {
			kept = append(kept, v)
		}
	}
	if len(removed) > 0 {
		q.items[key] = kept
	}
	return removed
}

// Snapshot returns a copy of key's queue, oldest first.
func (q *Queue[K, T]) Snapshot(key K) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]T(nil), q.items[key]...)
}

// Len returns the number of elements queued under key.
func (q *Queue[K, T]) Len(key K) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items[key])
}

// Size returns the number of elements over all keys.
func (q *Queue[K, T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, items := range q.items {
		n += len(items)
	}
	return n
}

// Keys returns the keys with at least one element, sorted.
func (q *Queue[K, T]) Keys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]K, 0, len(q.items))
	for k, items := range q.items {
		if len(items) > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
