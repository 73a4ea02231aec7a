//go:build linux

// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/internal/uring"
	"github.com/momentics/hioload-uring/observe"
	"github.com/momentics/hioload-uring/worker"
)

// RingFactory opens the completion ring of one worker.
type RingFactory func(id api.WorkerID, entries uint32) (api.CompletionRing, error)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger replaces the logger built from the log section.
func WithLogger(l *observe.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithObserver replaces the rate-limited sink of accept events.
func WithObserver(o api.Observer) ServerOption {
	return func(s *Server) { s.observer = o }
}

// WithRingFactory replaces io_uring rings, typically with fakes in tests.
func WithRingFactory(f RingFactory) ServerOption {
	return func(s *Server) { s.newRing = f }
}

// WithConnHandler sets the consumer of published connections on every worker.
func WithConnHandler(h worker.ConnHandler) ServerOption {
	return func(s *Server) { s.handler = h }
}

func openURing(_ api.WorkerID, entries uint32) (api.CompletionRing, error) {
	return uring.New(entries)
}
