// File: pool/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ActiveSlot is the worker-local "allocator currently in scope". The coroutine
// manager pushes a coroutine's arena immediately before resuming it and pops it
// as soon as the coroutine yields or completes; outside that window the slot is
// empty and allocations fall through to the thread's own allocator (the Go heap).

package pool

import "github.com/momentics/hioload-uring/api"

// ActiveSlot holds at most one arena. One slot exists per worker thread.
//
// Precondition: Push/Pop are not reentrant and must not be interleaved with
// signal handlers or other code that allocates through the slot.
type ActiveSlot struct {
	active *Arena
	swaps  uint64
}

// NewActiveSlot returns an empty slot.
func NewActiveSlot() *ActiveSlot { return &ActiveSlot{} }

// Push makes a the active arena. Pushing onto an occupied slot is a defect.
func (s *ActiveSlot) Push(a *Arena) {
	if s.active != nil {
		panic(api.NewDefect("nested allocator swap", "active_cap", s.active.Cap()))
	}
	if a == nil {
		panic(api.NewDefect("push of nil arena"))
	}
	s.active = a
	s.swaps++
}

// Pop restores the thread allocator. It reports the arena that was active.
func (s *ActiveSlot) Pop() *Arena {
	a := s.active
	if a == nil {
		panic(api.NewDefect("allocator slot pop without push"))
	}
	s.active = nil
	return a
}

// Active returns the arena in scope, or nil when the thread allocator is in scope.
func (s *ActiveSlot) Active() *Arena { return s.active }

// Swaps returns how many times an arena was pushed.
func (s *ActiveSlot) Swaps() uint64 { return s.swaps }

// Alloc serves n bytes from the arena in scope, or from the heap when none is.
func (s *ActiveSlot) Alloc(n, align int) ([]byte, error) {
	if s.active == nil {
		return make([]byte, n), nil
	}
	return s.active.Alloc(n, align)
}
