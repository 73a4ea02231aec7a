// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena is a bounded bump allocator over one pre-reserved region. Each
// coroutine owns exactly one arena for its whole lifetime.

package pool

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrArenaExhausted is returned when an allocation does not fit the arena.
var ErrArenaExhausted = errors.New("arena exhausted")

// Arena hands out slices of its backing region until Reset.
// Not safe for concurrent use.
type Arena struct {
	buf    []byte
	off    int
	high   int
	allocs uint64
}

// NewArena wraps buf. The arena never grows beyond len(buf).
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Alloc returns n zeroed bytes aligned to align (a power of two, 0 or 1 for none).
func (a *Arena) Alloc(n, align int) ([]byte, error) {
	if n < 0 || (align > 1 && align&(align-1) != 0) {
		return nil, fmt.Errorf("arena alloc n=%d align=%d: invalid argument", n, align)
	}
	start := a.off
	if align > 1 && len(a.buf) > 0 {
		base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
		addr := base + uintptr(start)
		if rem := addr & uintptr(align-1); rem != 0 {
			start += align - int(rem)
		}
	}
	end := start + n
	if end > len(a.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d used", ErrArenaExhausted, n, a.off, len(a.buf))
	}
	b := a.buf[start:end:end]
	clear(b)
	a.off = end
	if end > a.high {
		a.high = end
	}
	a.allocs++
	return b, nil
}

// Reset releases every allocation at once. Callers must guarantee nothing
// still references memory from the arena, including in-flight kernel operations.
func (a *Arena) Reset() {
	a.off = 0
}

// Cap returns the arena size in bytes.
func (a *Arena) Cap() int { return len(a.buf) }

// Used returns the bytes allocated since the last Reset.
func (a *Arena) Used() int { return a.off }

// HighWater returns the largest Used value observed.
func (a *Arena) HighWater() int { return a.high }

// Allocs returns the number of successful allocations over the arena lifetime.
func (a *Arena) Allocs() uint64 { return a.allocs }

func (a *Arena) backing() []byte { return a.buf }
