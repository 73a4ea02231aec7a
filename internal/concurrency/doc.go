// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the worker runtime: a bounded MPMC queue carrying
// published connections between workers, a bounded SPSC ring, and OS-thread
// pinning for worker goroutines.
package concurrency
