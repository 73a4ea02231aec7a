//go:build !linux

// File: internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread. CPU affinity
// is not supported on this platform and cpu is ignored.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	return nil
}

// UnpinCurrentThread releases the OS thread lock.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}

// NumCPU returns runtime.NumCPU.
func NumCPU() int { return runtime.NumCPU() }
