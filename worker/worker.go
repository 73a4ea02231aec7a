//go:build linux

// File: worker/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uring/accept"
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/dispatch"
	"github.com/momentics/hioload-uring/internal/concurrency"
	"github.com/momentics/hioload-uring/observe"
	"github.com/momentics/hioload-uring/pool"
	"github.com/momentics/hioload-uring/publish"
)

// TickTag is the reserved tag of the admin timeout.
var TickTag = coro.AdminTag(0)

// Manager is the coroutine manager type serving one listener kind.
type Manager = coro.Manager[accept.Info, accept.Start, accept.Done]

// Config holds what a worker cannot run without.
type Config struct {
	Ring      api.CompletionRing
	Publisher api.Publisher
	Inbound   api.Ring[publish.Delivery]
	Stats     *control.AcceptStats
	// Continue is shared by all workers; clearing it stops every Run loop.
	Continue *atomic.Bool
	// Doorbell, when set, lets publishers wake this worker out of Wait.
	Doorbell  *Doorbell
	Listeners [api.NumListenerKinds][]*accept.Listener
	ID        api.WorkerID
}

// Worker runs accept coroutines over one completion ring.
type Worker struct {
	cfg      Config
	log      *observe.Logger
	observer api.Observer
	handler  ConnHandler
	alloc    pool.Allocator
	sizing   coro.Sizing
	slot     *pool.ActiveSlot
	managers [api.NumListenerKinds]*Manager
	router   *dispatch.Router
	// pending holds coroutine handles parked on a full submission ring, FIFO.
	pending *queue.Queue

	ticks     uint64
	bells     uint64
	redrives  uint64
	delivered uint64
	tick      time.Duration
	cpu       int
	pin       bool
	tickOwed  bool
	bellOwed  bool
	started   bool
}

// New builds a worker and its managers. Manager k gets one slot per listener
// of kind k (at least one).
func New(cfg Config, opts ...Option) (*Worker, error) {
	if cfg.Ring == nil || cfg.Publisher == nil || cfg.Inbound == nil || cfg.Continue == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "worker config: ring, publisher, inbound queue and continue flag are required").
			WithContext("worker", int(cfg.ID))
	}
	w := &Worker{
		cfg:     cfg,
		sizing:  coro.DefaultSizing,
		slot:    pool.NewActiveSlot(),
		pending: queue.New(),
		tick:    DefaultTick,
		cpu:     -1,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = observe.NewLogger(io.Discard, logiface.LevelDisabled)
	}
	if w.cfg.Stats == nil {
		w.cfg.Stats = control.NewAcceptStats(1)
	}
	if w.handler == nil {
		w.handler = closeDelivery
	}
	if w.alloc == nil {
		a, err := pool.NewAllocator("")
		if err != nil {
			return nil, err
		}
		w.alloc = a
	}

	var resumers [api.NumListenerKinds]coro.Resumer
	for k := range w.managers {
		m, err := coro.New(uint8(k), w.alloc, len(cfg.Listeners[k]), w.sizing, accept.Body, coro.WithActiveSlot(w.slot))
		if err != nil {
			w.closeManagers()
			return nil, fmt.Errorf("worker %d: %s manager: %w", cfg.ID, api.ListenerKind(k), err)
		}
		w.managers[k] = m
		resumers[k] = m
	}
	router, err := dispatch.New(resumers, w.onAdmin)
	if err != nil {
		w.closeManagers()
		return nil, err
	}
	w.router = router
	return w, nil
}

// ID returns the worker id.
func (w *Worker) ID() api.WorkerID { return w.cfg.ID }

// Manager returns the manager serving kind.
func (w *Worker) Manager(kind api.ListenerKind) *Manager { return w.managers[kind] }

// Pending returns the number of coroutines waiting for ring room.
func (w *Worker) Pending() int { return w.pending.Length() }

// Run pins the thread if configured, starts one accept coroutine per
// listener and cycles until the continue flag clears or ctx is done. The
// coroutines are unwound before Run returns, on the thread that created them,
// so a worker runs once. A defect raised by a coroutine is not recovered.
func (w *Worker) Run(ctx context.Context) error {
	if w.pin {
		if err := concurrency.PinCurrentThread(w.cpu); err != nil {
			w.log.Warning().Int("worker", int(w.cfg.ID)).Err(err).Log("thread pinning failed")
		}
		defer concurrency.UnpinCurrentThread()
	}
	defer func() {
		if err := w.closeManagers(); err != nil {
			w.log.Warning().Int("worker", int(w.cfg.ID)).Err(err).Log("unwind coroutines")
		}
	}()
	if err := w.Start(); err != nil {
		return err
	}
	w.log.Info().Int("worker", int(w.cfg.ID)).Log("worker started")
	for w.cfg.Continue.Load() && ctx.Err() == nil {
		if err := w.Cycle(); err != nil {
			return err
		}
	}
	w.log.Info().Int("worker", int(w.cfg.ID)).
		Uint64("ticks", w.ticks).
		Uint64("bells", w.bells).
		Uint64("redrives", w.redrives).
		Uint64("delivered", w.delivered).
		Log("worker stopped")
	return nil
}

// Start launches one accept coroutine per listener and arms the admin tick.
func (w *Worker) Start() error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true
	for k, ls := range w.cfg.Listeners {
		for _, l := range ls {
			info := accept.Info{
				Ring:      w.cfg.Ring,
				Listener:  l,
				Publisher: w.cfg.Publisher,
				Observer:  w.observer,
				Stats:     w.cfg.Stats,
				Worker:    w.cfg.ID,
			}
			out, err := w.managers[k].StartCoroutine(info, accept.Start{})
			if err != nil {
				return fmt.Errorf("worker %d: start accept on %s: %w", w.cfg.ID, l.Name, err)
			}
			w.track(out.Step())
		}
	}
	w.armTick()
	w.armBell()
	return nil
}

// Cycle runs one loop iteration: re-drive parked coroutines while the ring
// has room, wait for completions, dispatch them, then hand inbound
// connections to the handler.
func (w *Worker) Cycle() error {
	w.armOwed()
	if err := w.redrive(); err != nil {
		return err
	}
	if w.tickOwed || w.bellOwed {
		// Wait must not block without its wake-up sources armed.
		if err := w.cfg.Ring.Flush(); err != nil {
			return fmt.Errorf("worker %d: %w", w.cfg.ID, err)
		}
		w.armOwed()
	}
	if err := w.cfg.Ring.Wait(1); err != nil {
		return fmt.Errorf("worker %d: %w", w.cfg.ID, err)
	}
	for c := range w.cfg.Ring.Completions() {
		step, err := w.router.Dispatch(c)
		if err != nil {
			var he *dispatch.HandlerError
			if !errors.As(err, &he) {
				return err
			}
			w.log.Err().Int("worker", int(w.cfg.ID)).Err(err).Log("admin completion failed")
			continue
		}
		w.track(step)
	}
	w.drainInbound()
	return nil
}

// redrive resumes parked coroutines in FIFO order. One that finds the ring
// full again stays at the head.
func (w *Worker) redrive() error {
	for w.pending.Length() > 0 && !w.cfg.Ring.Full() {
		h := w.pending.Peek().(coro.Handle)
		step, err := w.router.Redrive(h)
		if err != nil {
			return err
		}
		w.redrives++
		if !step.Complete && step.Reason == coro.SubmissionQueueFull {
			return nil
		}
		w.pending.Remove()
		w.track(step)
	}
	return nil
}

// track records what a started or resumed coroutine asked for.
func (w *Worker) track(s coro.Step) {
	switch {
	case s.Complete:
		w.log.Alert().Int("worker", int(w.cfg.ID)).Str("handle", s.Handle.String()).Log("accept coroutine returned")
	case s.Reason == coro.SubmissionQueueFull:
		w.pending.Add(s.Handle)
	}
}

func (w *Worker) armTick() {
	if w.tick <= 0 {
		return
	}
	w.tickOwed = w.cfg.Ring.Submit(api.TimeoutOp{Timeout: w.tick}, TickTag) == api.RingFull
}

func (w *Worker) armBell() {
	if w.cfg.Doorbell == nil {
		return
	}
	w.bellOwed = w.cfg.Ring.Submit(w.cfg.Doorbell.readOp(), BellTag) == api.RingFull
}

func (w *Worker) armOwed() {
	if w.tickOwed {
		w.armTick()
	}
	if w.bellOwed {
		w.armBell()
	}
}

// onAdmin handles completions carrying reserved tags.
func (w *Worker) onAdmin(tag uint64, result int32) error {
	switch {
	case tag == TickTag:
		w.ticks++
		w.armTick()
		if result < 0 && result != -int32(unix.ETIME) {
			return fmt.Errorf("admin tick: %w", unix.Errno(-result))
		}
		return nil
	case tag == BellTag && w.cfg.Doorbell != nil:
		w.bells++
		w.cfg.Doorbell.answered()
		w.armBell()
		if result < 0 {
			return fmt.Errorf("doorbell read: %w", unix.Errno(-result))
		}
		return nil
	}
	return fmt.Errorf("unknown admin tag %#x", tag)
}

func (w *Worker) drainInbound() {
	for range w.cfg.Inbound.Cap() {
		d, ok := w.cfg.Inbound.Dequeue()
		if !ok {
			return
		}
		w.delivered++
		w.handler(w, d)
	}
}

// Logger returns the worker's logger.
func (w *Worker) Logger() *observe.Logger { return w.log }

// RegisterProbes exposes manager occupancy under "worker<ID>.<kind>".
func (w *Worker) RegisterProbes(dp *control.DebugProbes) {
	for k, m := range w.managers {
		dp.RegisterOccupancy(fmt.Sprintf("worker%d.%s", w.cfg.ID, api.ListenerKind(k)), m)
	}
	dp.RegisterProbe(fmt.Sprintf("worker%d.pending", w.cfg.ID), func() any { return w.pending.Length() })
}

// Close unwinds the coroutines and releases their arenas. It is a no-op after
// Run has returned. The ring, the doorbell and the listeners belong to the
// caller.
func (w *Worker) Close() error {
	return w.closeManagers()
}

func (w *Worker) closeManagers() error {
	var errs []error
	for k, m := range w.managers {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s manager: %w", api.ListenerKind(k), err))
		}
	}
	return errors.Join(errs...)
}

func closeDelivery(w *Worker, d publish.Delivery) {
	if err := unix.Close(d.Conn.Fd); err != nil {
		w.log.Warning().Int("worker", int(w.cfg.ID)).Int("fd", d.Conn.Fd).Err(err).Log("close unhandled connection")
	}
}
