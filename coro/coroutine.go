// File: coro/coroutine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Coroutine-side view of the suspend/resume protocol.

package coro

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/pool"
)

// YieldReason explains why a coroutine suspended.
type YieldReason uint8

const (
	// AwaitingIoUring: a submission succeeded and the coroutine is parked
	// until its completion arrives.
	AwaitingIoUring YieldReason = iota + 1
	// SubmissionQueueFull: the ring had no free entry. The coroutine holds
	// no in-flight operation and must be re-driven once there is room.
	SubmissionQueueFull
)

func (r YieldReason) String() string {
	switch r {
	case AwaitingIoUring:
		return "awaiting_io_uring"
	case SubmissionQueueFull:
		return "submission_queue_full"
	default:
		return "none"
	}
}

// ResumeKind distinguishes the two ways a suspended coroutine is resumed.
type ResumeKind uint8

const (
	// ResumeCompletion delivers the completion of the coroutine's submission.
	ResumeCompletion ResumeKind = iota
	// ResumeRedrive wakes a coroutine parked on SubmissionQueueFull.
	ResumeRedrive
)

// Resume is the argument a coroutine receives when it resumes.
type Resume struct {
	Result int32
	Flags  uint32
	Kind   ResumeKind
}

// FromCompletion converts a ring completion into resume arguments.
func FromCompletion(c api.Completion) Resume {
	return Resume{Result: c.Result, Flags: c.Flags, Kind: ResumeCompletion}
}

// Redrive is the resume argument used for coroutines parked on a full ring.
func Redrive() Resume {
	return Resume{Kind: ResumeRedrive}
}

// Outcome is the result of starting or resuming a coroutine: either it would
// like to be resumed later (Complete false, Reason set) or it finished with Result.
type Outcome[T any] struct {
	Result   T
	Handle   Handle
	Reason   YieldReason
	Complete bool
}

// Step is the type-erased Outcome used by the dispatch router.
type Step struct {
	Handle   Handle
	Reason   YieldReason
	Complete bool
}

// Step drops the typed result.
func (o Outcome[T]) Step() Step {
	return Step{Handle: o.Handle, Reason: o.Reason, Complete: o.Complete}
}

// Co is the execution context handed to a coroutine body. It is valid only
// inside that body.
type Co[I any] struct {
	info   I
	arena  *pool.Arena
	slot   *pool.ActiveSlot
	yield  func(YieldReason) bool
	resume Resume
	handle Handle
}

// Handle returns the handle of this incarnation. It is the tag to attach to
// every submission made by the coroutine.
func (c *Co[I]) Handle() Handle { return c.handle }

// Info returns the instance information supplied at start.
func (c *Co[I]) Info() I { return c.info }

// Arena returns the coroutine's private arena.
func (c *Co[I]) Arena() *pool.Arena { return c.arena }

// Alloc serves n bytes through the worker's active-allocator slot, which must
// hold this coroutine's arena while the coroutine runs.
func (c *Co[I]) Alloc(n, align int) ([]byte, error) {
	if c.slot.Active() != c.arena {
		panic(api.NewDefect("coroutine allocating outside its own arena", "handle", c.handle.String()))
	}
	return c.slot.Alloc(n, align)
}

// Yield suspends the coroutine with reason and returns the resume arguments
// it is eventually resumed with.
func (c *Co[I]) Yield(reason YieldReason) Resume {
	if c.yield == nil {
		panic(api.NewDefect("yield outside a running coroutine"))
	}
	if !c.yield(reason) {
		panic(errUnwind)
	}
	return c.resume
}

// Submit queues op tagged with this coroutine's handle and suspends.
// When the ring is full nothing is queued, the coroutine parks with
// SubmissionQueueFull and, once re-driven, Submit returns ok=false: the caller
// still owns its intent and must rebuild and resubmit it.
func (c *Co[I]) Submit(ring api.CompletionRing, op api.Op) (res Resume, ok bool) {
	if ring.Submit(op, c.handle.Tag()) == api.RingFull {
		return c.Yield(SubmissionQueueFull), false
	}
	return c.Yield(AwaitingIoUring), true
}
