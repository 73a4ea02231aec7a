// Package accept
// Author: momentics <momentics@gmail.com>
//
// Listener sockets and the accept coroutine.
//
// One accept coroutine serves one listening socket forever: it submits an
// accept tagged with its own handle, suspends, and on resumption either hands
// the new connection to the publisher, closes it because access control
// denied the peer, or records a log-only failure. Every terminal decision
// emits exactly one observability event before the loop starts over.
//
// The package targets Linux, where the completion ring is io_uring.
package accept
