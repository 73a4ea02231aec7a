// Package coro
// Author: momentics <momentics@gmail.com>
//
// Cooperative stackful coroutines multiplexed over one completion ring per
// worker.
//
// A coroutine suspends only after handing an operation to the ring (or after
// finding the ring full) and is resumed exactly once per suspension with the
// matching completion. Every submission is tagged with the coroutine's Handle,
// which encodes manager, slot and generation so a completion is routed back in
// constant time. Stale generations, foreign managers and mismatched resume
// kinds are defects and panic with *api.Defect.
//
// Each slot owns a private arena; the manager pushes it into the worker's
// active-allocator slot for exactly the span in which the coroutine runs.
package coro
