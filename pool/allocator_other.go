//go:build !unix

// File: pool/allocator_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "fmt"

func defaultAllocator(name string) (Allocator, error) {
	if name == "mmap" {
		return nil, fmt.Errorf("mmap arena allocator: not supported on this platform")
	}
	return HeapAllocator{}, nil
}
