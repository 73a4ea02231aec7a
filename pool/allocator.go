// File: pool/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backing-region allocators for coroutine arenas.

package pool

import (
	"fmt"
	"os"
)

// Allocator reserves and releases arena backing regions.
type Allocator interface {
	Reserve(n int) ([]byte, error)
	Release(b []byte) error
}

// HeapAllocator backs arenas with Go heap memory.
type HeapAllocator struct{}

// Reserve implements Allocator.
func (HeapAllocator) Reserve(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("heap reserve %d bytes: invalid size", n)
	}
	return make([]byte, n), nil
}

// Release implements Allocator. Heap regions are reclaimed by the GC.
func (HeapAllocator) Release([]byte) error { return nil }

// NewAllocator returns the allocator registered under name: "heap", or "mmap"
// where supported. The empty name selects the platform default.
func NewAllocator(name string) (Allocator, error) {
	switch name {
	case "heap":
		return HeapAllocator{}, nil
	case "", "mmap":
		return defaultAllocator(name)
	default:
		return nil, fmt.Errorf("unknown arena allocator %q", name)
	}
}

func pageRound(n int) int {
	ps := os.Getpagesize()
	return (n + ps - 1) &^ (ps - 1)
}

// NewArenaFrom reserves n bytes from alloc and wraps them in an arena.
func NewArenaFrom(alloc Allocator, n int) (*Arena, error) {
	buf, err := alloc.Reserve(n)
	if err != nil {
		return nil, err
	}
	return NewArena(buf), nil
}

// ReleaseArena returns the arena's backing region to alloc.
func ReleaseArena(alloc Allocator, a *Arena) error {
	if a == nil {
		return nil
	}
	buf := a.backing()
	a.buf = nil
	a.off = 0
	return alloc.Release(buf)
}
