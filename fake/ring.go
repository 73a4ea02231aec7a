// File: fake/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"fmt"
	"iter"
	"sync"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/internal/concurrency"
)

// Submission is an operation accepted by Ring.Submit.
type Submission struct {
	Op  api.Op
	Tag uint64
}

// Responder decides the completion of a flushed submission. Returning false
// leaves the submission in flight until Ring.Complete is called for its tag.
type Responder func(s Submission) (result int32, ok bool)

// Ring is an in-memory api.CompletionRing. Submissions occupy the bounded
// submission queue until Flush hands them to the "kernel"; completions are
// produced by the Responder or by Complete.
type Ring struct {
	mu          sync.Mutex
	sq          *concurrency.RingBuffer[Submission]
	inflight    map[uint64][]api.Op
	completions []api.Completion
	history     []Submission
	respond     Responder
	flushes     int
	closed      bool
}

var _ api.CompletionRing = (*Ring)(nil)

// NewRing creates a ring with room for entries queued submissions.
func NewRing(entries int, respond Responder) *Ring {
	return &Ring{
		sq:       concurrency.NewRingBuffer[Submission](entries),
		inflight: make(map[uint64][]api.Op),
		respond:  respond,
	}
}

// Submit implements api.CompletionRing.
func (r *Ring) Submit(op api.Op, tag uint64) api.SubmitOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.sq.Enqueue(Submission{Op: op, Tag: tag}) {
		return api.RingFull
	}
	r.history = append(r.history, Submission{Op: op, Tag: tag})
	return api.Submitted
}

// Full implements api.CompletionRing.
func (r *Ring) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || r.sq.Len() == r.sq.Cap()
}

// Flush implements api.CompletionRing.
func (r *Ring) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.ErrRingClosed
	}
	r.flushes++
	for {
		s, ok := r.sq.Dequeue()
		if !ok {
			return nil
		}
		if r.respond != nil {
			if res, done := r.respond(s); done {
				r.completions = append(r.completions, api.Completion{Tag: s.Tag, Result: res})
				continue
			}
		}
		r.inflight[s.Tag] = append(r.inflight[s.Tag], s.Op)
	}
}

// Wait implements api.CompletionRing. It flushes and never blocks.
func (r *Ring) Wait(int) error { return r.Flush() }

// Completions implements api.CompletionRing.
func (r *Ring) Completions() iter.Seq[api.Completion] {
	return func(yield func(api.Completion) bool) {
		for {
			r.mu.Lock()
			if len(r.completions) == 0 {
				r.mu.Unlock()
				return
			}
			c := r.completions[0]
			r.completions = r.completions[1:]
			r.mu.Unlock()
			if !yield(c) {
				return
			}
		}
	}
}

// Complete delivers the completion of an in-flight operation carrying tag.
func (r *Ring) Complete(tag uint64, result int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.inflight[tag]
	if len(ops) == 0 {
		return fmt.Errorf("fake ring: no operation in flight for tag %#x", tag)
	}
	if len(ops) == 1 {
		delete(r.inflight, tag)
	} else {
		r.inflight[tag] = ops[1:]
	}
	r.completions = append(r.completions, api.Completion{Tag: tag, Result: result})
	return nil
}

// Inject queues a completion that no submission produced.
func (r *Ring) Inject(c api.Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
}

// InFlight returns the tags of operations flushed but not completed.
func (r *Ring) InFlight() map[uint64]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]int, len(r.inflight))
	for tag, ops := range r.inflight {
		out[tag] = len(ops)
	}
	return out
}

// Submissions returns every submission accepted so far, in order.
func (r *Ring) Submissions() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Submission(nil), r.history...)
}

// Queued returns the number of submissions not yet flushed.
func (r *Ring) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sq.Len()
}

// Flushes returns how many times Flush or Wait ran.
func (r *Ring) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Close implements api.CompletionRing.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
