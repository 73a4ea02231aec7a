// File: internal/concurrency/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded single-producer/single-consumer ring with atomic
// head and tail on separate cache lines.

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-uring/api"
)

var _ api.Ring[any] = (*RingBuffer[any])(nil)

// RingBuffer is safe for one producer and one consumer.
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    [cacheLinePad]byte
	tail atomic.Uint64
	_    [cacheLinePad]byte
}

// NewRingBuffer allocates a ring of at least size entries, rounded up to a
// power of two.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	n := 1
	for n < size {
		n <<= 1
	}
	return &RingBuffer[T]{data: make([]T, n), mask: uint64(n - 1)}
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns the oldest item; ok is false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	head := r.head.Load()
	var zero T
	if head >= r.tail.Load() {
		return zero, false
	}
	item := r.data[head&r.mask]
	r.data[head&r.mask] = zero
	r.head.Store(head + 1)
	return item, true
}

// Peek returns the oldest item without removing it.
func (r *RingBuffer[T]) Peek() (T, bool) {
	head := r.head.Load()
	if head >= r.tail.Load() {
		var zero T
		return zero, false
	}
	return r.data[head&r.mask], true
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.data) }
