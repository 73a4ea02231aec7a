// File: publish/roundrobin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Round-robin connection publisher over the workers' inbound queues.

package publish

import (
	"sync/atomic"

	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

// Delivery is a published connection waiting on a worker's inbound queue.
type Delivery struct {
	Conn       api.Conn
	Protocol   api.ProtocolID
	Source     api.WorkerID
	Permission api.Permission
}

// Waker wakes the worker owning an inbound queue.
type Waker interface {
	Wake() error
}

// RoundRobin spreads connections across workers in turn. When the chosen
// worker's queue is full the next one is tried; when every queue is full the
// connection is closed and NoWorker is returned. Safe for concurrent use.
type RoundRobin struct {
	queues     []api.Ring[Delivery]
	wakers     []Waker
	closeFd    func(fd int) error
	next       atomic.Uint64
	dropped    atomic.Uint64
	wakeFailed atomic.Uint64
}

var _ api.Publisher = (*RoundRobin)(nil)

// Option configures a RoundRobin.
type Option func(*RoundRobin)

// WithCloser replaces the function used to close connections that could not
// be placed.
func WithCloser(fn func(fd int) error) Option {
	return func(r *RoundRobin) { r.closeFd = fn }
}

// WithWakers sets the waker of each queue; wakers[i] wakes worker i. A
// worker is not woken for connections it publishes to itself, since it drains
// its queue in the same cycle.
func WithWakers(wakers []Waker) Option {
	return func(r *RoundRobin) { r.wakers = wakers }
}

// NewRoundRobin publishes onto queues; queue i belongs to worker i.
func NewRoundRobin(queues []api.Ring[Delivery], opts ...Option) *RoundRobin {
	r := &RoundRobin{queues: queues, closeFd: unix.Close}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish implements api.Publisher.
func (r *RoundRobin) Publish(source api.WorkerID, conn api.Conn, proto api.ProtocolID, perm api.Permission) api.WorkerID {
	n := uint64(len(r.queues))
	if n > 0 {
		d := Delivery{Conn: conn, Protocol: proto, Source: source, Permission: perm}
		start := r.next.Add(1) - 1
		for i := range n {
			idx := (start + i) % n
			if r.queues[idx].Enqueue(d) {
				r.wake(api.WorkerID(idx), source)
				return api.WorkerID(idx)
			}
		}
	}
	r.dropped.Add(1)
	_ = r.closeFd(conn.Fd)
	return api.NoWorker
}

func (r *RoundRobin) wake(dest, source api.WorkerID) {
	if dest == source || int(dest) >= len(r.wakers) || r.wakers[dest] == nil {
		return
	}
	if err := r.wakers[dest].Wake(); err != nil {
		r.wakeFailed.Add(1)
	}
}

// WakeFailures returns how many wake-ups could not be delivered.
func (r *RoundRobin) WakeFailures() uint64 { return r.wakeFailed.Load() }

// Dropped returns how many connections were closed for lack of room.
func (r *RoundRobin) Dropped() uint64 { return r.dropped.Load() }
