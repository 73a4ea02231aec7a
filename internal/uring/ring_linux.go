//go:build linux

// File: internal/uring/ring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring implements api.CompletionRing over a raw io_uring instance. The local
// submission tail is published to the kernel only on Flush or Wait, so Full
// reflects entries the kernel has not consumed yet.

package uring

import (
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

const (
	// DefaultEntries is used when New receives zero.
	DefaultEntries = 256
	minEntries     = 8
)

// Ring is a single-owner io_uring. Not safe for concurrent use.
type Ring struct {
	sqRing []byte
	cqRing []byte
	sqeMap []byte
	sqes   []sqe
	cqes   []cqe
	sqArr  []uint32
	// timeouts holds the timespec referenced by the SQE at the same index
	// until the kernel consumes that entry.
	timeouts []unix.Timespec

	sqHead *uint32
	sqTail *uint32
	cqHead *uint32
	cqTail *uint32

	fd       int
	tail     uint32
	sqMask   uint32
	sqCount  uint32
	cqMask   uint32
	features uint32
	closed   bool
}

var _ api.CompletionRing = (*Ring)(nil)

// New sets up an io_uring with room for entries submissions (rounded by the
// kernel to a power of two).
func New(entries uint32) (*Ring, error) {
	if entries == 0 {
		entries = DefaultEntries
	}
	entries = max(entries, minEntries)

	flagSets := []uint32{setupClamp | setupCoopTaskrun, setupClamp}
	for i := 0; ; i++ {
		p := params{Flags: flagSets[i]}
		fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
		if errno != 0 {
			if errno == unix.EINVAL && i < len(flagSets)-1 {
				continue
			}
			return nil, api.NewError(api.ErrCodeNotSupported, "io_uring_setup").Wrap(errno).
				WithContext("entries", entries)
		}
		r := &Ring{fd: int(fd), features: p.Features}
		if err := r.mapRings(&p); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("io_uring map rings: %w", err)
		}
		return r, nil
	}
}

func (r *Ring) mapRings(p *params) error {
	page := uint32(unix.Getpagesize())
	align := func(v uint32) uint32 { return (v + page - 1) &^ (page - 1) }

	sqSize := align(p.SQOff.Array + p.SQEntries*4)
	cqSize := align(p.CQOff.CQEs + p.CQEntries*cqeSize)
	sqeBytes := align(p.SQEntries * sqeSize)

	var err error
	if r.sqRing, err = unix.Mmap(r.fd, offSQRing, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	if r.cqRing, err = unix.Mmap(r.fd, offCQRing, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("mmap cq ring: %w", err)
	}
	if r.sqeMap, err = unix.Mmap(r.fd, offSQEs, int(sqeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}

	sq := unsafe.Pointer(&r.sqRing[0])
	r.sqHead = (*uint32)(unsafe.Add(sq, p.SQOff.Head))
	r.sqTail = (*uint32)(unsafe.Add(sq, p.SQOff.Tail))
	r.sqMask = *(*uint32)(unsafe.Add(sq, p.SQOff.RingMask))
	r.sqCount = *(*uint32)(unsafe.Add(sq, p.SQOff.RingEntries))
	r.sqArr = unsafe.Slice((*uint32)(unsafe.Add(sq, p.SQOff.Array)), p.SQEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqeMap[0])), p.SQEntries)
	r.timeouts = make([]unix.Timespec, p.SQEntries)
	r.tail = atomic.LoadUint32(r.sqTail)

	cq := unsafe.Pointer(&r.cqRing[0])
	r.cqHead = (*uint32)(unsafe.Add(cq, p.CQOff.Head))
	r.cqTail = (*uint32)(unsafe.Add(cq, p.CQOff.Tail))
	r.cqMask = *(*uint32)(unsafe.Add(cq, p.CQOff.RingMask))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Add(cq, p.CQOff.CQEs)), p.CQEntries)
	return nil
}

// Entries returns the submission ring size.
func (r *Ring) Entries() int { return int(r.sqCount) }

// Full implements api.CompletionRing.
func (r *Ring) Full() bool {
	if r.closed {
		return true
	}
	return r.tail-atomic.LoadUint32(r.sqHead) >= r.sqCount
}

// Submit implements api.CompletionRing.
func (r *Ring) Submit(op api.Op, tag uint64) api.SubmitOutcome {
	if r.Full() {
		return api.RingFull
	}
	idx := r.tail & r.sqMask
	e := &r.sqes[idx]
	*e = sqe{UserData: tag}

	switch o := op.(type) {
	case api.NopOp:
		e.Opcode = opNop
		e.Fd = -1
	case api.AcceptOp:
		if len(o.Peer) < api.SockaddrBufSize {
			panic(api.NewDefect("accept peer buffer too small", "len", len(o.Peer)))
		}
		lenCell := (*uint32)(unsafe.Pointer(&o.Peer[sockaddrLen]))
		*lenCell = sockaddrLen
		e.Opcode = opAccept
		e.Fd = int32(o.ListenFd)
		e.Addr = uint64(uintptr(unsafe.Pointer(&o.Peer[0])))
		e.Off = uint64(uintptr(unsafe.Pointer(lenCell)))
		e.OpFlags = unix.SOCK_CLOEXEC
	case api.CloseOp:
		e.Opcode = opClose
		e.Fd = int32(o.Fd)
	case api.ReadOp:
		if len(o.Buf) == 0 {
			panic(api.NewDefect("empty read buffer", "fd", o.Fd))
		}
		e.Opcode = opRead
		e.Fd = int32(o.Fd)
		e.Addr = uint64(uintptr(unsafe.Pointer(&o.Buf[0])))
		e.Len = uint32(len(o.Buf))
	case api.TimeoutOp:
		r.timeouts[idx] = unix.NsecToTimespec(o.Timeout.Nanoseconds())
		e.Opcode = opTimeout
		e.Fd = -1
		e.Addr = uint64(uintptr(unsafe.Pointer(&r.timeouts[idx])))
		e.Len = 1
	default:
		panic(api.NewDefect("unsupported ring operation", "op", fmt.Sprintf("%T", op)))
	}
	r.sqArr[idx] = idx
	r.tail++
	return api.Submitted
}

// Flush implements api.CompletionRing.
func (r *Ring) Flush() error {
	return r.enter(0, 0)
}

// Wait implements api.CompletionRing.
func (r *Ring) Wait(min int) error {
	if min <= 0 {
		return r.Flush()
	}
	return r.enter(uint32(min), enterGetEvents)
}

func (r *Ring) enter(minComplete, flags uint32) error {
	if r.closed {
		return api.ErrRingClosed
	}
	atomic.StoreUint32(r.sqTail, r.tail)
	for {
		toSubmit := r.tail - atomic.LoadUint32(r.sqHead)
		if toSubmit == 0 && flags&enterGetEvents == 0 {
			return nil
		}
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN, unix.EBUSY:
			// Completion backlog; the caller drains and retries.
			return nil
		default:
			return fmt.Errorf("io_uring_enter: %w", errno)
		}
	}
}

// Completions implements api.CompletionRing.
func (r *Ring) Completions() iter.Seq[api.Completion] {
	return func(yield func(api.Completion) bool) {
		if r.closed {
			return
		}
		head := atomic.LoadUint32(r.cqHead)
		tail := atomic.LoadUint32(r.cqTail)
		for head != tail {
			c := &r.cqes[head&r.cqMask]
			out := api.Completion{Tag: c.UserData, Result: c.Res, Flags: c.Flags}
			head++
			atomic.StoreUint32(r.cqHead, head)
			if !yield(out) {
				return
			}
		}
	}
}

// Close unmaps the rings and closes the io_uring descriptor.
func (r *Ring) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, m := range [][]byte{r.sqeMap, r.cqRing, r.sqRing} {
		if m != nil {
			if err := unix.Munmap(m); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.sqeMap, r.cqRing, r.sqRing = nil, nil, nil
	r.sqes, r.cqes, r.sqArr = nil, nil, nil
	if r.fd > 0 {
		if err := unix.Close(r.fd); err != nil {
			errs = append(errs, err)
		}
		r.fd = -1
	}
	return errors.Join(errs...)
}
