// File: api/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion ring contract: submission of tagged operations, lazy draining of
// completions, and the bounded ring buffer contract shared by queues.

package api

import (
	"iter"
	"time"
)

// Ring is a bounded ring buffer contract.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes oldest item, returns false if empty.
	Dequeue() (T, bool)
	// Len returns current number of items.
	Len() int
	// Cap returns buffer capacity.
	Cap() int
}

// SubmitOutcome reports what happened to a submission.
type SubmitOutcome uint8

const (
	// Submitted means the operation was queued and will yield exactly one completion.
	Submitted SubmitOutcome = iota
	// RingFull means no submission entry was free. Nothing was queued; the
	// caller must retry later.
	RingFull
)

func (o SubmitOutcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case RingFull:
		return "ring_full"
	default:
		return "unknown"
	}
}

// Opcode identifies the kernel operation carried by an Op.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpAccept
	OpClose
	OpTimeout
	OpRead
)

func (o Opcode) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpAccept:
		return "accept"
	case OpClose:
		return "close"
	case OpTimeout:
		return "timeout"
	case OpRead:
		return "read"
	default:
		return "unknown"
	}
}

// Op is an operation descriptor accepted by CompletionRing.Submit.
type Op interface {
	Opcode() Opcode
}

// SockaddrBufSize is the storage required by AcceptOp.Peer: a sockaddr_storage
// followed by its 32-bit length cell.
const SockaddrBufSize = 128 + 8

// AcceptOp accepts one connection on ListenFd. The kernel writes the peer
// address into Peer, which must stay untouched until the completion arrives.
type AcceptOp struct {
	Peer     []byte
	ListenFd int
}

// CloseOp closes Fd.
type CloseOp struct {
	Fd int
}

// TimeoutOp completes after Timeout elapses (result -ETIME) or earlier.
type TimeoutOp struct {
	Timeout time.Duration
}

// ReadOp reads up to len(Buf) bytes from Fd. Buf must stay untouched until
// the completion arrives.
type ReadOp struct {
	Buf []byte
	Fd  int
}

// NopOp completes immediately with result 0.
type NopOp struct{}

func (AcceptOp) Opcode() Opcode  { return OpAccept }
func (CloseOp) Opcode() Opcode   { return OpClose }
func (TimeoutOp) Opcode() Opcode { return OpTimeout }
func (ReadOp) Opcode() Opcode    { return OpRead }
func (NopOp) Opcode() Opcode     { return OpNop }

// Completion is one completed operation: the opaque tag given at submission
// and the kernel result (negative errno on failure).
type Completion struct {
	Tag    uint64
	Result int32
	Flags  uint32
}

// CompletionRing wraps a paired submission/completion ring. It is owned by a
// single worker thread and is not safe for concurrent use.
type CompletionRing interface {
	// Submit queues op carrying tag. RingFull is a scheduling signal, not an error.
	Submit(op Op, tag uint64) SubmitOutcome

	// Full reports whether the submission ring has no free entry.
	Full() bool

	// Flush hands queued submissions to the kernel without waiting.
	Flush() error

	// Wait flushes and blocks until at least min completions are available.
	Wait(min int) error

	// Completions drains the completions available right now. A completion's
	// ring slot is released before it is yielded, so the value stays valid
	// after the slot is reused. Breaking out early leaves the remainder for
	// the next call.
	Completions() iter.Seq[Completion]

	Close() error
}
