//go:build unix

// File: pool/allocator_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Anonymous-mapping arena allocator. Kernel I/O writes into arena memory
// (peer addresses) land outside the Go heap.

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator backs arenas with private anonymous mappings rounded to pages.
type MmapAllocator struct{}

// Reserve implements Allocator.
func (MmapAllocator) Reserve(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap reserve %d bytes: invalid size", n)
	}
	size := pageRound(n)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap reserve %d bytes: %w", size, err)
	}
	return b[:n], nil
}

// Release implements Allocator.
func (MmapAllocator) Release(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b[:cap(b)]); err != nil {
		return fmt.Errorf("munmap arena: %w", err)
	}
	return nil
}

func defaultAllocator(string) (Allocator, error) {
	return MmapAllocator{}, nil
}
