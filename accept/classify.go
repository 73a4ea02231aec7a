//go:build linux

// File: accept/classify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accept

import (
	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

// Class is the handling category of a failed accept.
type Class uint8

const (
	// ClassLogOnly failures are recorded and the accept is retried.
	ClassLogOnly Class = iota
	// ClassDefect failures mean the listener or the runtime itself is broken.
	ClassDefect
	// ClassUnexpected failures are unknown errnos; recorded at error level, then retried.
	ClassUnexpected
)

type failure struct {
	name     string
	severity api.Severity
	class    Class
}

// failures lists every errno the accept loop knows how to handle.
var failures = map[unix.Errno]failure{
	unix.EMFILE:       {"process_fd_limit", api.SeverityCritical, ClassLogOnly},
	unix.ENFILE:       {"system_fd_limit", api.SeverityCritical, ClassLogOnly},
	unix.ENOMEM:       {"kernel_out_of_memory", api.SeverityCritical, ClassLogOnly},
	unix.ENOBUFS:      {"kernel_out_of_buffers", api.SeverityCritical, ClassLogOnly},
	unix.EINTR:        {"interrupted", api.SeverityDebug, ClassLogOnly},
	unix.EAGAIN:       {"would_block", api.SeverityDebug, ClassLogOnly},
	unix.ECONNABORTED: {"connection_aborted", api.SeverityInfo, ClassLogOnly},
	unix.EPERM:        {"firewalled", api.SeverityNotice, ClassLogOnly},
	unix.ETIMEDOUT:    {"timed_out", api.SeverityInfo, ClassLogOnly},
	unix.EPROTO:       {"protocol_error", api.SeverityInfo, ClassLogOnly},
	unix.ENETDOWN:     {"network_down", api.SeverityWarning, ClassLogOnly},
	unix.ENETUNREACH:  {"network_unreachable", api.SeverityWarning, ClassLogOnly},
	unix.EHOSTUNREACH: {"host_unreachable", api.SeverityWarning, ClassLogOnly},
	unix.EHOSTDOWN:    {"host_down", api.SeverityWarning, ClassLogOnly},
	unix.ENONET:       {"no_network", api.SeverityWarning, ClassLogOnly},
	unix.ENOPROTOOPT:  {"protocol_option", api.SeverityWarning, ClassLogOnly},
	unix.EOPNOTSUPP:   {"operation_not_supported", api.SeverityAlert, ClassDefect},
	unix.EBADF:        {"bad_listener_fd", api.SeverityAlert, ClassDefect},
	unix.ENOTSOCK:     {"listener_not_socket", api.SeverityAlert, ClassDefect},
	unix.EINVAL:       {"listener_not_listening", api.SeverityAlert, ClassDefect},
	unix.EFAULT:       {"bad_peer_buffer", api.SeverityAlert, ClassDefect},
}

// Classify maps a negative accept result to its event name, severity and class.
func Classify(result int32) (name string, severity api.Severity, class Class) {
	errno := unix.Errno(-result)
	if f, ok := failures[errno]; ok {
		return f.name, f.severity, f.class
	}
	return "unexpected_errno", api.SeverityError, ClassUnexpected
}
