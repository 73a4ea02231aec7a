//go:build linux

// File: internal/uring/ring_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uring_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/internal/uring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newRing(t *testing.T, entries uint32) *uring.Ring {
	t.Helper()
	r, err := uring.New(entries)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func drain(r *uring.Ring) []api.Completion {
	var out []api.Completion
	for c := range r.Completions() {
		out = append(out, c)
	}
	return out
}

func TestRing_NopRoundTrip(t *testing.T) {
	r := newRing(t, 8)
	require.Equal(t, api.Submitted, r.Submit(api.NopOp{}, 42))
	require.NoError(t, r.Wait(1))

	got := drain(r)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(42), got[0].Tag)
	assert.Equal(t, int32(0), got[0].Result)
	assert.Empty(t, drain(r), "completion delivered twice")
}

func TestRing_FullUntilFlushed(t *testing.T) {
	r := newRing(t, 8)
	n := r.Entries()
	for i := range n {
		require.Equal(t, api.Submitted, r.Submit(api.NopOp{}, uint64(i)))
	}
	assert.True(t, r.Full())
	assert.Equal(t, api.RingFull, r.Submit(api.NopOp{}, 999))

	require.NoError(t, r.Wait(n))
	assert.False(t, r.Full())

	seen := map[uint64]bool{}
	for _, c := range drain(r) {
		seen[c.Tag] = true
	}
	assert.Len(t, seen, n)
	assert.False(t, seen[999])
}

func TestRing_Timeout(t *testing.T) {
	r := newRing(t, 8)
	start := time.Now()
	require.Equal(t, api.Submitted, r.Submit(api.TimeoutOp{Timeout: 20 * time.Millisecond}, 7))
	require.NoError(t, r.Wait(1))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	got := drain(r)
	require.Len(t, got, 1)
	assert.Equal(t, -int32(unix.ETIME), got[0].Result)
}

func TestRing_CloseBadFd(t *testing.T) {
	r := newRing(t, 8)
	require.Equal(t, api.Submitted, r.Submit(api.CloseOp{Fd: 1 << 20}, 3))
	require.NoError(t, r.Wait(1))
	got := drain(r)
	require.Len(t, got, 1)
	assert.Equal(t, -int32(unix.EBADF), got[0].Result)
}

func TestRing_ClosedRejectsWork(t *testing.T) {
	r := newRing(t, 8)
	require.NoError(t, r.Close())
	assert.Equal(t, api.RingFull, r.Submit(api.NopOp{}, 1))
	assert.ErrorIs(t, r.Flush(), api.ErrRingClosed)
}

func TestRing_ReadEventfd(t *testing.T) {
	r := newRing(t, 8)
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	require.NoError(t, err)
	defer unix.Close(efd)

	buf := make([]byte, 8)
	require.Equal(t, api.Submitted, r.Submit(api.ReadOp{Fd: efd, Buf: buf}, 5))
	require.NoError(t, r.Flush())
	assert.Empty(t, drain(r))

	_, err = unix.Write(efd, []byte{3, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, r.Wait(1))
	got := drain(r)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].Tag)
	assert.Equal(t, int32(8), got[0].Result)
	assert.Equal(t, byte(3), buf[0])
}
