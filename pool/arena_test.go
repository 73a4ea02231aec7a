// File: pool/arena_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/pool"
)

func TestArena_AllocAlignAndExhaust(t *testing.T) {
	a := pool.NewArena(make([]byte, 64))

	b1, err := a.Alloc(3, 1)
	require.NoError(t, err)
	assert.Len(t, b1, 3)
	b1[0] = 0xFF

	b2, err := a.Alloc(8, 8)
	require.NoError(t, err)
	assert.Zero(t, uintptr(unsafe.Pointer(&b2[0]))%8)
	assert.Equal(t, 8, cap(b2))

	_, err = a.Alloc(64, 1)
	require.ErrorIs(t, err, pool.ErrArenaExhausted)

	_, err = a.Alloc(4, 3)
	require.Error(t, err)

	used := a.Used()
	a.Reset()
	assert.Zero(t, a.Used())
	assert.Equal(t, used, a.HighWater())
	assert.Equal(t, uint64(2), a.Allocs())

	// Memory is handed out zeroed after a reset.
	b3, err := a.Alloc(3, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, b3)
}

func TestAllocator_Registry(t *testing.T) {
	for _, name := range []string{"", "heap", "mmap"} {
		t.Run(name, func(t *testing.T) {
			alloc, err := pool.NewAllocator(name)
			require.NoError(t, err)
			a, err := pool.NewArenaFrom(alloc, 1000)
			require.NoError(t, err)
			assert.Equal(t, 1000, a.Cap())
			b, err := a.Alloc(1000, 1)
			require.NoError(t, err)
			b[999] = 1
			require.NoError(t, pool.ReleaseArena(alloc, a))
			assert.Zero(t, a.Cap())
		})
	}
	_, err := pool.NewAllocator("slab")
	require.Error(t, err)
}

func TestActiveSlot_Scope(t *testing.T) {
	s := pool.NewActiveSlot()
	a := pool.NewArena(make([]byte, 32))

	b, err := s.Alloc(16, 1)
	require.NoError(t, err)
	assert.Len(t, b, 16)
	assert.Zero(t, a.Used())

	s.Push(a)
	assert.Same(t, a, s.Active())
	_, err = s.Alloc(16, 1)
	require.NoError(t, err)
	assert.Equal(t, 16, a.Used())

	assert.PanicsWithError(t, api.NewDefect("nested allocator swap", "active_cap", 32).Error(), func() {
		s.Push(pool.NewArena(make([]byte, 8)))
	})

	assert.Same(t, a, s.Pop())
	assert.Nil(t, s.Active())
	assert.Equal(t, uint64(1), s.Swaps())
	assert.Panics(t, func() { s.Pop() })
}
