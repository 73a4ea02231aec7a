// File: internal/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded multi-producer/multi-consumer queue using per-cell sequence numbers
// (Dmitry Vyukov's scheme). Producers are accept coroutines on any worker;
// the consumer is the owning worker's loop.

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-uring/api"
)

var _ api.Ring[any] = (*Queue[any])(nil)

const cacheLinePad = 64

type cell[T any] struct {
	seq  atomic.Uint64
	data T
}

// Queue is a bounded MPMC queue. Capacity is rounded up to a power of two.
type Queue[T any] struct {
	head  atomic.Uint64
	_     [cacheLinePad]byte
	tail  atomic.Uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

// NewQueue returns a queue holding at least capacity items (minimum 2).
func NewQueue[T any](capacity int) *Queue[T] {
	size := 2
	for size < capacity {
		size <<= 1
	}
	q := &Queue[T]{mask: uint64(size - 1), cells: make([]cell[T], size)}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue adds v; returns false if the queue is full.
func (q *Queue[T]) Enqueue(v T) bool {
	for {
		tail := q.tail.Load()
		c := &q.cells[tail&q.mask]
		switch dif := int64(c.seq.Load()) - int64(tail); {
		case dif == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				c.data = v
				c.seq.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
	}
}

// Dequeue removes the oldest item; ok is false if the queue is empty.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	for {
		head := q.head.Load()
		c := &q.cells[head&q.mask]
		switch dif := int64(c.seq.Load()) - int64(head+1); {
		case dif == 0:
			if q.head.CompareAndSwap(head, head+1) {
				v = c.data
				var zero T
				c.data = zero
				c.seq.Store(head + q.mask + 1)
				return v, true
			}
		case dif < 0:
			return v, false
		}
	}
}

// Len returns an instantaneous estimate of the number of queued items.
func (q *Queue[T]) Len() int {
	n := int64(q.tail.Load()) - int64(q.head.Load())
	if n < 0 {
		return 0
	}
	return int(min(n, int64(len(q.cells))))
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return len(q.cells) }
