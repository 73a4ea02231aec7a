// Package api
// Author: momentics
//
// Live introspection of a running accept runtime.

package api

// Debug exposes runtime introspection. Probes run on the caller's goroutine.
type Debug interface {
	// DumpState returns the current value of every registered probe.
	DumpState() map[string]any

	// RegisterProbe registers fn under name, replacing any previous probe.
	RegisterProbe(name string, fn func() any)
}
