//go:build linux

// File: worker/doorbell.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
	"github.com/momentics/hioload-uring/publish"
)

// BellTag is the reserved tag of the doorbell read.
var BellTag = coro.AdminTag(1)

var bellValue = [8]byte{1}

// Doorbell wakes a worker blocked on its completion ring. The worker keeps a
// read armed on an eventfd; publishers ring it after queueing a connection
// for that worker. Rings are coalesced until the worker has seen the last one.
type Doorbell struct {
	buf  [8]byte
	fd   int
	rung atomic.Bool
	// writes counts the wake-ups actually written to the eventfd.
	writes atomic.Uint64
}

var _ publish.Waker = (*Doorbell)(nil)

// NewDoorbell opens the eventfd behind a doorbell.
func NewDoorbell() (*Doorbell, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("doorbell eventfd: %w", err)
	}
	return &Doorbell{fd: fd}, nil
}

// Wake implements publish.Waker. Safe for concurrent use.
func (d *Doorbell) Wake() error {
	if !d.rung.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := unix.Write(d.fd, bellValue[:]); err != nil {
		d.rung.Store(false)
		return fmt.Errorf("doorbell: %w", err)
	}
	d.writes.Add(1)
	return nil
}

// Writes returns how many wake-ups reached the eventfd.
func (d *Doorbell) Writes() uint64 { return d.writes.Load() }

func (d *Doorbell) readOp() api.ReadOp {
	return api.ReadOp{Fd: d.fd, Buf: d.buf[:]}
}

// answered re-opens the doorbell once its read has completed. Connections
// queued before this call are drained in the same cycle.
func (d *Doorbell) answered() { d.rung.Store(false) }

// Close releases the eventfd. Call it after the ring carrying the read is
// closed.
func (d *Doorbell) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
