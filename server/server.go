//go:build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server turns a configuration into running workers: it opens the listeners
// and rings, builds access tables, the publisher and the inbound queues, and
// runs one locked worker thread per configured worker.

package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-uring/accept"
	"github.com/momentics/hioload-uring/access"
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/internal/concurrency"
	"github.com/momentics/hioload-uring/internal/config"
	"github.com/momentics/hioload-uring/observe"
	"github.com/momentics/hioload-uring/pool"
	"github.com/momentics/hioload-uring/publish"
	"github.com/momentics/hioload-uring/worker"
)

var ErrAlreadyRunning = errors.New("server already running")

// Server owns every resource of the accept runtime.
type Server struct {
	cfg      *config.Config
	store    *control.ConfigStore[config.Config]
	log      *observe.Logger
	observer api.Observer
	// sink is the observer built from the configuration, nil when the
	// caller supplied its own.
	sink    *observe.Sink
	handler worker.ConnHandler
	newRing RingFactory

	stats     *control.AcceptStats
	probes    *control.DebugProbes
	publisher *publish.RoundRobin
	listeners []*accept.Listener
	doorbells []*worker.Doorbell
	rings     []api.CompletionRing
	workers   []*worker.Worker

	running   atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
}

// NewServer opens listeners and rings and builds the workers described by cfg.
// On failure everything opened so far is closed.
func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &Server{
		cfg:     cfg,
		store:   control.NewConfigStore(cfg),
		newRing: openURing,
		stats:   control.NewAcceptStats(cfg.Workers),
		probes:  control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		level, lerr := observe.ParseLevel(cfg.Log.Level)
		if lerr != nil {
			return nil, lerr
		}
		s.log = observe.NewLogger(os.Stderr, level)
	}
	if s.observer == nil {
		s.sink = observe.NewSink(s.log, observe.WithRates(cfg.Log.Rates()))
		s.observer = s.sink
	}
	if err := s.build(); err != nil {
		if cerr := s.Close(); cerr != nil {
			s.log.Warning().Err(cerr).Log("cleanup after failed start")
		}
		return nil, err
	}
	return s, nil
}

// build opens everything the server owns. Whatever it opened before failing
// is released by Close.
func (s *Server) build() error {
	cfg := s.cfg

	tables := make(map[string]*access.Table, len(cfg.AccessControl))
	for name, acl := range cfg.AccessControl {
		t, terr := acl.Build()
		if terr != nil {
			return fmt.Errorf("access_control.%s: %w", name, terr)
		}
		tables[name] = t
	}

	queues := make([]api.Ring[publish.Delivery], cfg.Workers)
	wakers := make([]publish.Waker, cfg.Workers)
	for i := range queues {
		queues[i] = concurrency.NewQueue[publish.Delivery](cfg.Ring.InboundQueue)
		bell, err := worker.NewDoorbell()
		if err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		s.doorbells = append(s.doorbells, bell)
		wakers[i] = bell
	}
	s.publisher = publish.NewRoundRobin(queues, publish.WithWakers(wakers))

	alloc, err := pool.NewAllocator(cfg.Coroutine.Allocator)
	if err != nil {
		return err
	}

	shared, err := s.openListeners(tables, false)
	if err != nil {
		return err
	}
	for i := range cfg.Workers {
		id := api.WorkerID(i)
		own, lerr := s.openListeners(tables, true)
		if lerr != nil {
			return lerr
		}
		var ls [api.NumListenerKinds][]*accept.Listener
		for k := range ls {
			ls[k] = append(append(ls[k], shared[k]...), own[k]...)
		}

		ring, rerr := s.newRing(id, cfg.Ring.Entries)
		if rerr != nil {
			return fmt.Errorf("worker %d: open ring: %w", id, rerr)
		}
		s.rings = append(s.rings, ring)

		wopts := []worker.Option{
			worker.WithLogger(s.log),
			worker.WithObserver(s.observer),
			worker.WithAllocator(alloc),
			worker.WithSizing(coro.Sizing{ArenaBytes: cfg.Coroutine.ArenaBytes}),
			worker.WithTick(cfg.Ring.Tick.Duration),
		}
		if s.handler != nil {
			wopts = append(wopts, worker.WithHandler(s.handler))
		}
		if cfg.PinThreads {
			wopts = append(wopts, worker.WithPinning(i%concurrency.NumCPU()))
		}
		w, werr := worker.New(worker.Config{
			Ring:      ring,
			Publisher: s.publisher,
			Inbound:   queues[i],
			Stats:     s.stats,
			Continue:  &s.running,
			Doorbell:  s.doorbells[i],
			Listeners: ls,
			ID:        id,
		}, wopts...)
		if werr != nil {
			return werr
		}
		w.RegisterProbes(s.probes)
		s.workers = append(s.workers, w)
	}
	s.registerProbes()
	return nil
}

// openListeners opens the listeners whose reuse_port setting equals perWorker.
// Sockets without SO_REUSEPORT are opened once and served by every worker.
func (s *Server) openListeners(tables map[string]*access.Table, perWorker bool) ([api.NumListenerKinds][]*accept.Listener, error) {
	var out [api.NumListenerKinds][]*accept.Listener
	for kind, lcs := range s.cfg.Listeners.ByKind() {
		for _, lc := range lcs {
			reuse := lc.ReusePort && api.ListenerKind(kind) != api.ListenerUnix
			if reuse != perWorker {
				continue
			}
			l, err := openListener(api.ListenerKind(kind), lc)
			if err != nil {
				return out, err
			}
			s.listeners = append(s.listeners, l)
			l.Name = lc.DisplayName()
			l.Protocol = api.ProtocolID(lc.Protocol)
			if lc.ACL != "" {
				l.ACL = tables[lc.ACL]
			}
			out[kind] = append(out[kind], l)
			s.log.Info().
				Str("listener", l.Name).
				Str("kind", l.Kind.String()).
				Bool("reuse_port", reuse).
				Log("listening")
		}
	}
	return out, nil
}

func openListener(kind api.ListenerKind, lc config.ListenerConfig) (*accept.Listener, error) {
	opts := accept.SocketOptions{Backlog: lc.Backlog, ReusePort: lc.ReusePort}
	if kind == api.ListenerUnix {
		mode, err := lc.FileMode()
		if err != nil {
			return nil, err
		}
		opts.Mode = mode
		return accept.OpenUnix(lc.Path, opts)
	}
	return accept.OpenTCP(lc.Address, opts)
}

func (s *Server) registerProbes() {
	control.RegisterRuntimeProbes(s.probes)
	s.probes.RegisterProbe("accept.stats", func() any { return s.stats.Snapshot() })
	s.probes.RegisterProbe("publish.dropped", func() any { return s.publisher.Dropped() })
	s.probes.RegisterProbe("publish.wake_failures", func() any { return s.publisher.WakeFailures() })
	s.probes.RegisterProbe("config.workers", func() any { return s.store.Snapshot().Workers })
}

// Run runs every worker on its own locked OS thread and blocks until all of
// them return. Shutdown or cancelling ctx stops them.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.running.Store(true)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		g.Go(func() error {
			err := w.Run(gctx)
			if err != nil {
				s.running.Store(false)
			}
			return err
		})
	}

	// Workers blocked in Wait see a cancelled context only once woken.
	stopped := make(chan struct{})
	var waker sync.WaitGroup
	waker.Add(1)
	go func() {
		defer waker.Done()
		select {
		case <-gctx.Done():
			s.wakeWorkers()
		case <-stopped:
		}
	}()

	err := g.Wait()
	close(stopped)
	waker.Wait()
	s.log.Notice().Any("stats", s.stats.Snapshot()).Log("server stopped")
	return err
}

// Shutdown asks every worker to stop after its current cycle.
func (s *Server) Shutdown() {
	s.running.Store(false)
	s.wakeWorkers()
}

func (s *Server) wakeWorkers() {
	for i, d := range s.doorbells {
		if err := d.Wake(); err != nil {
			s.log.Warning().Int("worker", i).Err(err).Log("wake worker")
		}
	}
}

// Close releases workers, rings, doorbells and listeners. Call it after Run
// returns.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, w := range s.workers {
			errs = append(errs, w.Close())
		}
		for _, r := range s.rings {
			errs = append(errs, r.Close())
		}
		for _, d := range s.doorbells {
			errs = append(errs, d.Close())
		}
		for _, l := range s.listeners {
			errs = append(errs, l.Close())
		}
	})
	return errors.Join(errs...)
}

// Reload validates cfg, applies the log rate limits to the server's own sink
// and swaps the configuration snapshot seen by Config and the reload hooks.
// Log level, access tables, listeners, rings and workers keep their startup
// settings until the server is rebuilt.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.sink != nil {
		s.sink.SetRates(cfg.Log.Rates())
	}
	s.store.Store(cfg)
	return nil
}

// OnReload registers a hook run after each Reload.
func (s *Server) OnReload(fn func(*config.Config)) { s.store.OnReload(fn) }

// Config returns the active configuration snapshot.
func (s *Server) Config() *config.Config { return s.store.Snapshot() }

// Observer returns the observer the accept coroutines report to.
func (s *Server) Observer() api.Observer { return s.observer }

// Stats returns the shared accept counters.
func (s *Server) Stats() *control.AcceptStats { return s.stats }

// Probes exposes the debug probes.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Listeners returns every open listener.
func (s *Server) Listeners() []*accept.Listener { return s.listeners }

// Logger returns the server logger.
func (s *Server) Logger() *observe.Logger { return s.log }
