// File: internal/concurrency/queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-uring/internal/concurrency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndBounds(t *testing.T) {
	q := concurrency.NewQueue[int](3)
	require.Equal(t, 4, q.Cap())
	for i := range 4 {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(99))
	assert.Equal(t, 4, q.Len())
	for i := range 4 {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestQueue_MPMC(t *testing.T) {
	const producers, perProducer = 8, 5000
	q := concurrency.NewQueue[int](256)
	total := int64(producers * perProducer)

	var sent, received, count atomic.Int64
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				v := p*perProducer + i + 1
				for !q.Enqueue(v) {
					runtime.Gosched()
				}
				sent.Add(int64(v))
			}
		}()
	}
	var cw sync.WaitGroup
	for range 4 {
		cw.Add(1)
		go func() {
			defer cw.Done()
			for count.Load() < total {
				if v, ok := q.Dequeue(); ok {
					received.Add(int64(v))
					count.Add(1)
				} else {
					runtime.Gosched()
				}
			}
		}()
	}
	wg.Wait()
	cw.Wait()
	assert.Equal(t, sent.Load(), received.Load())
}

func TestRingBuffer_SPSC(t *testing.T) {
	r := concurrency.NewRingBuffer[string](2)
	require.True(t, r.Enqueue("a"))
	require.True(t, r.Enqueue("b"))
	assert.False(t, r.Enqueue("c"))

	v, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, r.Len())

	v, _ = r.Dequeue()
	assert.Equal(t, "a", v)
	require.True(t, r.Enqueue("c"))
	v, _ = r.Dequeue()
	assert.Equal(t, "b", v)
	v, _ = r.Dequeue()
	assert.Equal(t, "c", v)
	_, ok = r.Dequeue()
	assert.False(t, ok)
}

func TestPinCurrentThread(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		defer concurrency.UnpinCurrentThread()
		done <- concurrency.PinCurrentThread(-1)
	}()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, concurrency.NumCPU(), 1)
}
