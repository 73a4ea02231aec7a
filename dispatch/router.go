// File: dispatch/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Router routes ring completions to coroutine managers by direct array index.

package dispatch

import (
	"fmt"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
)

// NonCoroutineHandler processes completions whose tag lies in the reserved
// administrative range.
type NonCoroutineHandler func(tag uint64, result int32) error

// HandlerError wraps a failure reported by the NonCoroutineHandler.
type HandlerError struct {
	Err    error
	Tag    uint64
	Result int32
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("non-coroutine completion tag=%#x result=%d: %v", e.Tag, e.Result, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Router holds one manager per listener kind. Manager i must have been built
// with index i so that handles decode to the right array entry.
type Router struct {
	managers [api.NumListenerKinds]coro.Resumer
	other    NonCoroutineHandler
}

// New builds a router. Every entry of managers must be non-nil.
func New(managers [api.NumListenerKinds]coro.Resumer, other NonCoroutineHandler) (*Router, error) {
	for i, m := range managers {
		if m == nil {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "nil manager").
				WithContext("kind", api.ListenerKind(i).String())
		}
	}
	if other == nil {
		other = func(uint64, int32) error { return nil }
	}
	return &Router{managers: managers, other: other}, nil
}

// Dispatch resumes the coroutine addressed by c.Tag with the completion, or
// hands reserved tags to the non-coroutine handler (returning a zero Step).
func (r *Router) Dispatch(c api.Completion) (coro.Step, error) {
	if coro.IsNotForACoroutine(c.Tag) {
		if err := r.other(c.Tag, c.Result); err != nil {
			return coro.Step{}, &HandlerError{Err: err, Tag: c.Tag, Result: c.Result}
		}
		return coro.Step{}, nil
	}
	h := coro.Wrap(c.Tag)
	return r.resumer(h).Resume(h, coro.FromCompletion(c))
}

// Redrive resumes a coroutine that parked on a full submission ring.
func (r *Router) Redrive(h coro.Handle) (coro.Step, error) {
	return r.resumer(h).Resume(h, coro.Redrive())
}

func (r *Router) resumer(h coro.Handle) coro.Resumer {
	if int(h.Manager) >= len(r.managers) {
		panic(api.NewDefect("completion for unknown manager", "handle", h.String()))
	}
	return r.managers[h.Manager]
}
