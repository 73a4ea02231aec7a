//go:build !linux

// File: internal/uring/ring_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uring

import (
	"iter"

	"github.com/momentics/hioload-uring/api"
)

// DefaultEntries is used when New receives zero.
const DefaultEntries = 256

// Ring is unavailable outside Linux.
type Ring struct{}

// New always fails on this platform.
func New(uint32) (*Ring, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "io_uring is only available on linux").Wrap(api.ErrNotSupported)
}

func (*Ring) Entries() int                            { return 0 }
func (*Ring) Full() bool                              { return true }
func (*Ring) Submit(api.Op, uint64) api.SubmitOutcome { return api.RingFull }
func (*Ring) Flush() error                            { return api.ErrNotSupported }
func (*Ring) Wait(int) error                          { return api.ErrNotSupported }
func (*Ring) Completions() iter.Seq[api.Completion]   { return func(func(api.Completion) bool) {} }
func (*Ring) Close() error                            { return nil }
