// File: coro/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager owns a fixed array of coroutine slots sharing one body. Each slot
// pre-reserves its arena at construction so the steady state never allocates
// backing memory.

package coro

import (
	"errors"
	"fmt"
	"iter"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/pool"
)

// ErrManagerClosed is returned by operations on a closed manager.
var ErrManagerClosed = errors.New("coroutine manager closed")

// Body is the code run by every coroutine of a manager. It receives the
// coroutine context and the start argument and returns the final result.
type Body[I, S, T any] func(co *Co[I], start S) T

// Sizing configures per-slot resources.
type Sizing struct {
	// ArenaBytes is the size of each slot's private arena.
	ArenaBytes int
}

// DefaultSizing fits a pending accept record with ample headroom.
var DefaultSizing = Sizing{ArenaBytes: 4096}

// Resumer is the type-erased view of a manager used for routing.
type Resumer interface {
	Resume(h Handle, r Resume) (Step, error)
}

type slotState uint8

const (
	stateFree slotState = iota
	stateStarting
	stateRunning
	stateSuspended
)

func (s slotState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateSuspended:
		return "suspended"
	}
	return "unknown"
}

type instance[I, T any] struct {
	co         Co[I]
	next       func() (YieldReason, bool)
	stop       func()
	result     T
	reason     YieldReason
	generation uint32
	state      slotState
}

// Option tunes a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	slot *pool.ActiveSlot
}

// WithActiveSlot shares the worker's active-allocator slot with the manager.
// Every manager on one worker must use the same slot.
func WithActiveSlot(s *pool.ActiveSlot) Option {
	return func(o *managerOptions) { o.slot = s }
}

// Manager runs coroutines of one kind. Not safe for concurrent use; a manager
// is confined to its worker thread.
type Manager[I, S, T any] struct {
	alloc     pool.Allocator
	slot      *pool.ActiveSlot
	body      Body[I, S, T]
	slots     []instance[I, T]
	free      []uint32
	started   uint64
	completed uint64
	index     uint8
	closed    bool
}

// New builds a manager with max(capacityHint, 1) slots, reserving each
// slot's arena from alloc. Arenas reserved before a failure are released.
func New[I, S, T any](index uint8, alloc pool.Allocator, capacityHint int, sizing Sizing, body Body[I, S, T], opts ...Option) (*Manager[I, S, T], error) {
	if index >= MaxManagers {
		return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("manager index %d out of range", index))
	}
	if body == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil coroutine body")
	}
	capacity := max(capacityHint, 1)
	if capacity > MaxSlots {
		return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("capacity %d exceeds %d slots", capacity, MaxSlots))
	}
	if sizing.ArenaBytes <= 0 {
		sizing = DefaultSizing
	}
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.slot == nil {
		o.slot = pool.NewActiveSlot()
	}

	m := &Manager[I, S, T]{
		alloc: alloc,
		slot:  o.slot,
		body:  body,
		slots: make([]instance[I, T], capacity),
		free:  make([]uint32, 0, capacity),
		index: index,
	}
	for i := range m.slots {
		a, err := pool.NewArenaFrom(alloc, sizing.ArenaBytes)
		if err != nil {
			for j := range i {
				_ = pool.ReleaseArena(alloc, m.slots[j].co.arena)
			}
			return nil, &AllocationError{Err: err, Bytes: sizing.ArenaBytes, Slot: i, Manager: index}
		}
		m.slots[i].co.arena = a
		m.slots[i].co.slot = o.slot
	}
	// LIFO: slot 0 is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		m.free = append(m.free, uint32(i))
	}
	return m, nil
}

// Index returns the manager index encoded into its handles.
func (m *Manager[I, S, T]) Index() uint8 { return m.index }

// Cap returns the number of slots.
func (m *Manager[I, S, T]) Cap() int { return len(m.slots) }

// InUse returns the number of occupied slots.
func (m *Manager[I, S, T]) InUse() int { return len(m.slots) - len(m.free) }

// Started returns the number of coroutines ever started.
func (m *Manager[I, S, T]) Started() uint64 { return m.started }

// Completed returns the number of coroutines that ran to completion.
func (m *Manager[I, S, T]) Completed() uint64 { return m.completed }

// StartCoroutine takes a free slot and runs body(info, start) until it first
// suspends or completes. Without a free slot it fails with ErrNoFreeSlot and
// leaves every slot untouched.
func (m *Manager[I, S, T]) StartCoroutine(info I, start S) (Outcome[T], error) {
	if m.closed {
		return Outcome[T]{}, ErrManagerClosed
	}
	n := len(m.free)
	if n == 0 {
		return Outcome[T]{}, fmt.Errorf("manager %d (%d slots): %w", m.index, len(m.slots), ErrNoFreeSlot)
	}
	idx := m.free[n-1]
	m.free = m.free[:n-1]

	inst := &m.slots[idx]
	inst.co.handle = Handle{Manager: m.index, Slot: idx, Generation: inst.generation}
	inst.co.info = info
	inst.co.resume = Resume{}
	inst.co.arena.Reset()
	var zero T
	inst.result = zero
	inst.reason = 0

	body := m.body
	seq := func(yield func(YieldReason) bool) {
		inst.co.yield = yield
		defer func() {
			inst.co.yield = nil
			if r := recover(); r != nil && r != errUnwind {
				panic(r)
			}
		}()
		inst.result = body(&inst.co, start)
	}
	inst.next, inst.stop = iter.Pull(iter.Seq[YieldReason](seq))
	inst.state = stateStarting
	m.started++
	return m.step(idx), nil
}

// ResumeCoroutine resumes the coroutine identified by h with r. A handle from
// another manager, an out-of-range slot, a stale generation, a slot that is not
// suspended, or a resume kind that does not match the suspension reason are
// defects.
func (m *Manager[I, S, T]) ResumeCoroutine(h Handle, r Resume) (Outcome[T], error) {
	if m.closed {
		return Outcome[T]{}, ErrManagerClosed
	}
	if h.Manager != m.index {
		panic(api.NewDefect("handle routed to foreign manager", "handle", h.String(), "manager", m.index))
	}
	if int(h.Slot) >= len(m.slots) {
		panic(api.NewDefect("slot index out of range", "handle", h.String(), "slots", len(m.slots)))
	}
	inst := &m.slots[h.Slot]
	if inst.state != stateSuspended {
		panic(api.NewDefect("resume of coroutine that is not suspended", "handle", h.String(), "state", inst.state.String()))
	}
	if inst.generation != h.Generation {
		panic(api.NewDefect("stale coroutine generation", "handle", h.String(), "current", inst.generation))
	}
	want := ResumeCompletion
	if inst.reason == SubmissionQueueFull {
		want = ResumeRedrive
	}
	if r.Kind != want {
		panic(api.NewDefect("resume kind does not match suspension", "handle", h.String(), "reason", inst.reason.String()))
	}
	inst.co.resume = r
	return m.step(h.Slot), nil
}

// Resume implements Resumer.
func (m *Manager[I, S, T]) Resume(h Handle, r Resume) (Step, error) {
	out, err := m.ResumeCoroutine(h, r)
	if err != nil {
		return Step{}, err
	}
	return out.Step(), nil
}

// step runs the coroutine in slot idx with its arena in scope until the next
// suspension or completion.
func (m *Manager[I, S, T]) step(idx uint32) Outcome[T] {
	inst := &m.slots[idx]
	h := inst.co.handle
	inst.state = stateRunning

	m.slot.Push(inst.co.arena)
	reason, ok := func() (YieldReason, bool) {
		defer m.slot.Pop()
		return inst.next()
	}()

	if ok {
		inst.state = stateSuspended
		inst.reason = reason
		return Outcome[T]{Handle: h, Reason: reason}
	}

	res := inst.result
	var zero T
	inst.result = zero
	inst.stop()
	inst.next, inst.stop = nil, nil
	inst.state = stateFree
	inst.reason = 0
	inst.generation++
	m.free = append(m.free, idx)
	m.completed++
	return Outcome[T]{Handle: h, Result: res, Complete: true}
}

// Close unwinds every suspended coroutine and releases all arenas.
func (m *Manager[I, S, T]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for i := range m.slots {
		inst := &m.slots[i]
		if inst.stop != nil {
			inst.stop()
			inst.next, inst.stop = nil, nil
		}
		inst.state = stateFree
		if err := pool.ReleaseArena(m.alloc, inst.co.arena); err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
		}
		inst.co.arena = nil
	}
	m.free = m.free[:0]
	return errors.Join(errs...)
}

var _ Resumer = (*Manager[struct{}, struct{}, struct{}])(nil)
