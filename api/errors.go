// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-uring.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrRingClosed   = fmt.Errorf("completion ring is closed")
	ErrNotSupported = fmt.Errorf("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Err     error
	Context map[string]any
	Message string
	Code    ErrorCode
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Defect reports a violated runtime invariant. It is raised with panic and is
// never meant to be recovered: the worker that hits one must stop.
type Defect struct {
	Context map[string]any
	Reason  string
}

func (d *Defect) Error() string {
	if len(d.Context) == 0 {
		return "defect: " + d.Reason
	}
	return fmt.Sprintf("defect: %s (context: %+v)", d.Reason, d.Context)
}

// NewDefect builds a Defect from a reason and key/value context pairs.
func NewDefect(reason string, kv ...any) *Defect {
	d := &Defect{Reason: reason}
	if len(kv) > 1 {
		d.Context = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			d.Context[fmt.Sprint(kv[i])] = kv[i+1]
		}
	}
	return d
}
