// File: coro/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package coro

import (
	"errors"
	"fmt"
)

// ErrNoFreeSlot is returned by StartCoroutine when every slot is occupied.
// Capacity is sized from the listener count, so this is a caller bug.
var ErrNoFreeSlot = errors.New("no free coroutine slot")

// AllocationError reports a failure to reserve a slot's arena while
// constructing a manager.
type AllocationError struct {
	Err     error
	Bytes   int
	Slot    int
	Manager uint8
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("coroutine manager %d: reserve %d-byte arena for slot %d: %v", e.Manager, e.Bytes, e.Slot, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// errUnwind unwinds a coroutine body whose manager is shutting down.
var errUnwind = errors.New("coroutine stopped")
