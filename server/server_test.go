//go:build linux

// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/fake"
	"github.com/momentics/hioload-uring/internal/config"
	"github.com/momentics/hioload-uring/internal/uring"
	"github.com/momentics/hioload-uring/observe"
	"github.com/momentics/hioload-uring/publish"
	"github.com/momentics/hioload-uring/server"
	"github.com/momentics/hioload-uring/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workers = 2
	cfg.Coroutine.Allocator = "heap"
	cfg.Ring.Tick = config.Duration{Duration: 10 * time.Millisecond}
	cfg.AccessControl = map[string]config.ACLConfig{
		"local": {Default: "deny", Rules: []config.RuleConfig{{CIDR: "127.0.0.1/32", Permission: 9}}},
	}
	cfg.Listeners.TCP4 = []config.ListenerConfig{
		{Name: "shared", Address: "127.0.0.1:0", ACL: "local", Protocol: "echo"},
		{Name: "spread", Address: "127.0.0.1:0", ReusePort: true},
	}
	cfg.Listeners.Unix = []config.ListenerConfig{
		{Path: filepath.Join(t.TempDir(), "ctl.sock"), Mode: "600"},
	}
	return cfg
}

func fakeRings(rings *[]*fake.Ring) server.RingFactory {
	return func(_ api.WorkerID, entries uint32) (api.CompletionRing, error) {
		r := fake.NewRing(int(entries), nil)
		*rings = append(*rings, r)
		return r, nil
	}
}

func TestNewServer_Layout(t *testing.T) {
	var rings []*fake.Ring
	logs := new(bytes.Buffer)
	s, err := server.NewServer(testConfig(t),
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(logs, logiface.LevelInformational)),
	)
	require.NoError(t, err)
	defer s.Close()

	// One shared tcp4, one reuse_port tcp4 per worker, one unix.
	require.Len(t, s.Listeners(), 4)
	require.Len(t, rings, 2)
	shared := s.Listeners()[0]
	assert.Equal(t, "shared", shared.Name)
	assert.Equal(t, api.ProtocolID("echo"), shared.Protocol)
	require.NotNil(t, shared.ACL)
	assert.Contains(t, logs.String(), "listening")

	state := s.Probes().DumpState()
	for _, name := range []string{"worker0.tcp4", "worker1.tcp4"} {
		occ, ok := state[name].(control.Occupancy)
		require.True(t, ok, name)
		assert.Equal(t, 2, occ.Cap)
	}
	assert.Equal(t, control.Occupancy{Cap: 1}, state["worker1.unix"])
	assert.Equal(t, 2, state["config.workers"])
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 0
	_, err := server.NewServer(cfg)
	require.Error(t, err)
}

func TestNewServer_RingFailureClosesListeners(t *testing.T) {
	cfg := testConfig(t)
	sock := cfg.Listeners.Unix[0].Path
	_, err := server.NewServer(cfg,
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
		server.WithRingFactory(func(api.WorkerID, uint32) (api.CompletionRing, error) {
			return nil, api.ErrNotSupported
		}),
	)
	require.ErrorIs(t, err, api.ErrNotSupported)
	assert.NoFileExists(t, sock)
}

func TestNewServer_BindFailureClosesListeners(t *testing.T) {
	taken, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Listeners.TCP4 = []config.ListenerConfig{
		{Name: "free", Address: "127.0.0.1:0"},
		{Name: "taken", Address: taken.Addr().String()},
	}
	var rings []*fake.Ring
	s, err := server.NewServer(cfg,
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
	)
	require.ErrorIs(t, err, unix.EADDRINUSE)
	assert.Nil(t, s)
	assert.Empty(t, rings)
}

func TestServer_PinnedRunShutdownClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.PinThreads = true
	var rings []*fake.Ring
	s, err := server.NewServer(cfg,
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		for _, r := range rings {
			if r.Flushes() == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)

	s.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	// Closing from this goroutine must not touch coroutines created on the
	// workers' locked threads.
	require.NoError(t, s.Close())
	for _, l := range s.Listeners() {
		assert.Equal(t, -1, l.Fd)
	}
}

func TestServer_RunAndShutdown(t *testing.T) {
	var rings []*fake.Ring
	s, err := server.NewServer(testConfig(t),
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		for _, r := range rings {
			if r.Flushes() == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Run(context.Background()), server.ErrAlreadyRunning)

	s.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// Every listener has an accept in flight on each worker that serves it,
	// next to the tick and the doorbell read.
	for _, r := range rings {
		inflight := r.InFlight()
		assert.Len(t, inflight, 5)
		assert.Equal(t, 1, inflight[worker.TickTag])
		assert.Equal(t, 1, inflight[worker.BellTag])
	}
	require.NoError(t, s.Close())
	for _, l := range s.Listeners() {
		assert.Equal(t, -1, l.Fd)
	}
}

func TestServer_Reload(t *testing.T) {
	var rings []*fake.Ring
	s, err := server.NewServer(testConfig(t),
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
	)
	require.NoError(t, err)
	defer s.Close()

	var seen *config.Config
	s.OnReload(func(c *config.Config) { seen = c })

	next := testConfig(t)
	next.Log.Level = "debug"
	require.NoError(t, s.Reload(next))
	assert.Same(t, next, seen)
	assert.Same(t, next, s.Config())

	next = testConfig(t)
	next.Ring.Entries = 0
	require.Error(t, s.Reload(next))
	assert.Same(t, seen, s.Config())
}

func TestServer_ReloadAppliesLogRates(t *testing.T) {
	var rings []*fake.Ring
	logs := new(bytes.Buffer)
	cfg := testConfig(t)
	cfg.Log.RatePerSec, cfg.Log.RatePerMin = 1, 2
	s, err := server.NewServer(cfg,
		server.WithRingFactory(fakeRings(&rings)),
		server.WithLogger(observe.NewLogger(logs, logiface.LevelDebug)),
	)
	require.NoError(t, err)
	defer s.Close()

	ev := api.Event{Name: "accept.interrupted", Category: api.CategoryAccept, Severity: api.SeverityInfo}
	count := func() (n int) {
		for _, line := range bytes.Split(logs.Bytes(), []byte("\n")) {
			if bytes.Contains(line, []byte("accept.interrupted")) {
				n++
			}
		}
		return n
	}
	s.Observer().Observe(ev)
	s.Observer().Observe(ev)
	require.Equal(t, 1, count())

	next := testConfig(t)
	next.Log.DisableLimit = true
	require.NoError(t, s.Reload(next))
	s.Observer().Observe(ev)
	s.Observer().Observe(ev)
	assert.Equal(t, 3, count())
}

func TestServer_AcceptsOverIoUring(t *testing.T) {
	probe, err := uring.New(8)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	require.NoError(t, probe.Close())

	cfg := testConfig(t)
	cfg.Workers = 1
	cfg.Listeners.TCP4 = cfg.Listeners.TCP4[:1]
	cfg.Listeners.Unix = nil

	delivered := make(chan publish.Delivery, 4)
	s, err := server.NewServer(cfg,
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
		server.WithConnHandler(func(_ *worker.Worker, d publish.Delivery) {
			delivered <- d
			_ = unix.Close(d.Conn.Fd)
		}),
	)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	addr, err := s.Listeners()[0].Addr()
	require.NoError(t, err)
	c, err := net.Dial("tcp4", addr.String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case d := <-delivered:
		assert.Equal(t, api.Permission(9), d.Permission)
		assert.Equal(t, api.ProtocolID("echo"), d.Protocol)
		assert.Equal(t, c.LocalAddr().String(), d.Conn.Peer.String())
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, uint64(1), s.Stats().Snapshot().TotalPublished())
}

func TestServer_CrossWorkerDeliveryIsPrompt(t *testing.T) {
	probe, err := uring.New(8)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	require.NoError(t, probe.Close())

	cfg := testConfig(t)
	cfg.Workers = 2
	// A long tick: only the doorbell can wake an idle worker in time.
	cfg.Ring.Tick = config.Duration{Duration: 10 * time.Second}
	cfg.Listeners.TCP4 = cfg.Listeners.TCP4[:1]
	cfg.Listeners.Unix = nil

	type arrival struct {
		d  publish.Delivery
		at api.WorkerID
	}
	delivered := make(chan arrival, 8)
	s, err := server.NewServer(cfg,
		server.WithLogger(observe.NewLogger(io.Discard, logiface.LevelDisabled)),
		server.WithConnHandler(func(w *worker.Worker, d publish.Delivery) {
			delivered <- arrival{d: d, at: w.ID()}
			_ = unix.Close(d.Conn.Fd)
		}),
	)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	addr, err := s.Listeners()[0].Addr()
	require.NoError(t, err)
	seen := map[api.WorkerID]int{}
	for i := range 4 {
		c, err := net.Dial("tcp4", addr.String())
		require.NoError(t, err)
		select {
		case a := <-delivered:
			seen[a.at]++
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d was not delivered promptly", i)
		}
		require.NoError(t, c.Close())
	}
	// Round robin placed connections on both workers.
	assert.Equal(t, map[api.WorkerID]int{0: 2, 1: 2}, seen)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
