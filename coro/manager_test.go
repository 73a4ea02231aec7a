// File: coro/manager_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package coro_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBody yields n times and sums the results it is resumed with.
func echoBody(co *coro.Co[string], n int) int {
	sum := 0
	for range n {
		r := co.Yield(coro.AwaitingIoUring)
		sum += int(r.Result)
	}
	return sum
}

func newManager(t *testing.T, capacity int, body coro.Body[string, int, int]) *coro.Manager[string, int, int] {
	t.Helper()
	m, err := coro.New(3, pool.HeapAllocator{}, capacity, coro.Sizing{ArenaBytes: 512}, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func requireDefect(t *testing.T, fn func()) *api.Defect {
	t.Helper()
	var d *api.Defect
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected a defect")
			var ok bool
			d, ok = r.(*api.Defect)
			require.True(t, ok, "panic value %T is not a defect", r)
		}()
		fn()
	}()
	return d
}

func TestManager_RunsToCompletion(t *testing.T) {
	m := newManager(t, 1, echoBody)

	out, err := m.StartCoroutine("a", 2)
	require.NoError(t, err)
	require.False(t, out.Complete)
	assert.Equal(t, coro.AwaitingIoUring, out.Reason)
	assert.Equal(t, uint8(3), out.Handle.Manager)

	out, err = m.ResumeCoroutine(out.Handle, coro.Resume{Result: 4})
	require.NoError(t, err)
	require.False(t, out.Complete)

	out, err = m.ResumeCoroutine(out.Handle, coro.Resume{Result: 5})
	require.NoError(t, err)
	require.True(t, out.Complete)
	assert.Equal(t, 9, out.Result)
	assert.Equal(t, 0, m.InUse())
	assert.Equal(t, uint64(1), m.Completed())
}

func TestManager_CapacityBoundary(t *testing.T) {
	m := newManager(t, 2, echoBody)

	first, err := m.StartCoroutine("a", 1)
	require.NoError(t, err)
	_, err = m.StartCoroutine("b", 1)
	require.NoError(t, err)

	_, err = m.StartCoroutine("c", 1)
	require.ErrorIs(t, err, coro.ErrNoFreeSlot)
	assert.Equal(t, 2, m.InUse())

	// The failed start left existing coroutines resumable.
	out, err := m.ResumeCoroutine(first.Handle, coro.Resume{Result: 1})
	require.NoError(t, err)
	assert.True(t, out.Complete)

	_, err = m.StartCoroutine("c", 1)
	require.NoError(t, err)
}

func TestManager_ZeroHintGetsOneSlot(t *testing.T) {
	m := newManager(t, 0, echoBody)
	assert.Equal(t, 1, m.Cap())
}

func TestManager_StaleGenerationIsDefect(t *testing.T) {
	m := newManager(t, 1, echoBody)

	out, err := m.StartCoroutine("a", 1)
	require.NoError(t, err)
	stale := out.Handle
	done, err := m.ResumeCoroutine(stale, coro.Resume{})
	require.NoError(t, err)
	require.True(t, done.Complete)

	next, err := m.StartCoroutine("b", 1)
	require.NoError(t, err)
	assert.Equal(t, stale.Slot, next.Handle.Slot)
	assert.Equal(t, stale.Generation+1, next.Handle.Generation)

	d := requireDefect(t, func() { _, _ = m.ResumeCoroutine(stale, coro.Resume{}) })
	assert.Contains(t, d.Reason, "stale")

	// The live coroutine is unaffected.
	out, err = m.ResumeCoroutine(next.Handle, coro.Resume{})
	require.NoError(t, err)
	assert.True(t, out.Complete)
}

func TestManager_AtMostOneResumePerSuspension(t *testing.T) {
	m := newManager(t, 1, echoBody)

	out, err := m.StartCoroutine("a", 1)
	require.NoError(t, err)
	_, err = m.ResumeCoroutine(out.Handle, coro.Resume{})
	require.NoError(t, err)

	requireDefect(t, func() { _, _ = m.ResumeCoroutine(out.Handle, coro.Resume{}) })
}

func TestManager_ResumeKindMustMatchReason(t *testing.T) {
	m := newManager(t, 1, func(co *coro.Co[string], _ int) int {
		r := co.Yield(coro.SubmissionQueueFull)
		return int(r.Kind)
	})
	out, err := m.StartCoroutine("a", 0)
	require.NoError(t, err)
	require.Equal(t, coro.SubmissionQueueFull, out.Reason)

	requireDefect(t, func() { _, _ = m.ResumeCoroutine(out.Handle, coro.Resume{Kind: coro.ResumeCompletion}) })

	out, err = m.ResumeCoroutine(out.Handle, coro.Redrive())
	require.NoError(t, err)
	require.True(t, out.Complete)
	assert.Equal(t, int(coro.ResumeRedrive), out.Result)
}

func TestManager_ForeignHandleIsDefect(t *testing.T) {
	m := newManager(t, 1, echoBody)
	requireDefect(t, func() {
		_, _ = m.ResumeCoroutine(coro.Handle{Manager: 9}, coro.Resume{})
	})
}

func TestManager_ArenaInScopeOnlyWhileRunning(t *testing.T) {
	slot := pool.NewActiveSlot()
	var during *pool.Arena
	m, err := coro.New(0, pool.HeapAllocator{}, 1, coro.Sizing{ArenaBytes: 256},
		func(co *coro.Co[string], _ int) int {
			during = slot.Active()
			b, err := co.Alloc(64, 8)
			if err != nil {
				return -1
			}
			co.Yield(coro.AwaitingIoUring)
			return len(b)
		}, coro.WithActiveSlot(slot))
	require.NoError(t, err)
	defer m.Close()

	out, err := m.StartCoroutine("x", 0)
	require.NoError(t, err)
	require.NotNil(t, during)
	assert.Nil(t, slot.Active(), "arena leaked past suspension")
	assert.Equal(t, 64, during.Used())

	out, err = m.ResumeCoroutine(out.Handle, coro.Resume{})
	require.NoError(t, err)
	assert.Equal(t, 64, out.Result)
	assert.Nil(t, slot.Active())
	assert.Equal(t, uint64(2), slot.Swaps())
}

func TestManager_ArenaResetBetweenIncarnations(t *testing.T) {
	var used []int
	m := newManager(t, 1, func(co *coro.Co[string], _ int) int {
		used = append(used, co.Arena().Used())
		_, _ = co.Alloc(100, 1)
		return 0
	})
	for range 3 {
		out, err := m.StartCoroutine("a", 0)
		require.NoError(t, err)
		require.True(t, out.Complete)
	}
	assert.Equal(t, []int{0, 0, 0}, used)
}

func TestManager_CloseUnwindsSuspended(t *testing.T) {
	unwound := false
	m, err := coro.New(0, pool.HeapAllocator{}, 1, coro.Sizing{}, func(co *coro.Co[string], _ int) int {
		defer func() { unwound = true }()
		for {
			co.Yield(coro.AwaitingIoUring)
		}
	})
	require.NoError(t, err)

	_, err = m.StartCoroutine("a", 0)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.True(t, unwound)

	_, err = m.StartCoroutine("a", 0)
	assert.ErrorIs(t, err, coro.ErrManagerClosed)
}

type failingAllocator struct{ after int }

func (f *failingAllocator) Reserve(n int) ([]byte, error) {
	if f.after == 0 {
		return nil, errors.New("out of memory")
	}
	f.after--
	return make([]byte, n), nil
}

func (f *failingAllocator) Release([]byte) error { return nil }

func TestNew_AllocationError(t *testing.T) {
	_, err := coro.New(4, &failingAllocator{after: 2}, 5, coro.Sizing{ArenaBytes: 64}, echoBody)
	var ae *coro.AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Slot)
	assert.Equal(t, uint8(4), ae.Manager)
}

func TestManager_BodyPanicPropagates(t *testing.T) {
	m := newManager(t, 1, func(co *coro.Co[string], _ int) int {
		co.Yield(coro.AwaitingIoUring)
		panic(api.NewDefect("boom"))
	})
	out, err := m.StartCoroutine("a", 0)
	require.NoError(t, err)
	d := requireDefect(t, func() { _, _ = m.ResumeCoroutine(out.Handle, coro.Resume{}) })
	assert.Equal(t, "boom", d.Reason)
}
