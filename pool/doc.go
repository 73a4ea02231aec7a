// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer of the coroutine runtime. Every coroutine slot owns one Arena,
// a bump allocator over a region reserved once from an Allocator (anonymous
// mmap on unix, the Go heap elsewhere). A worker-local ActiveSlot holds the
// arena of the coroutine currently running so that allocations made on its
// behalf never reach the shared heap.
package pool
