//go:build linux

// File: worker/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"time"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/observe"
	"github.com/momentics/hioload-uring/pool"
	"github.com/momentics/hioload-uring/publish"
)

// DefaultTick bounds each ring wait so the continue flag is observed.
const DefaultTick = 100 * time.Millisecond

// ConnHandler consumes connections published to this worker.
type ConnHandler func(w *Worker, d publish.Delivery)

// Option customizes worker initialization.
type Option func(*Worker)

// WithLogger sets the runtime logger.
func WithLogger(l *observe.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithObserver sets the sink of accept events.
func WithObserver(o api.Observer) Option {
	return func(w *Worker) { w.observer = o }
}

// WithHandler sets the consumer of inbound connections.
func WithHandler(h ConnHandler) Option {
	return func(w *Worker) { w.handler = h }
}

// WithAllocator sets the arena backing allocator.
func WithAllocator(a pool.Allocator) Option {
	return func(w *Worker) { w.alloc = a }
}

// WithSizing sets per-coroutine resources.
func WithSizing(s coro.Sizing) Option {
	return func(w *Worker) { w.sizing = s }
}

// WithTick overrides DefaultTick. Zero disables the admin timeout.
func WithTick(d time.Duration) Option {
	return func(w *Worker) { w.tick = d }
}

// WithPinning locks the worker to its OS thread and, when cpu >= 0, to a CPU.
func WithPinning(cpu int) Option {
	return func(w *Worker) {
		w.pin = true
		w.cpu = cpu
	}
}
