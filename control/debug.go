// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug probes for internal inspection.

package control

import (
	"runtime"
	"sync"

	"github.com/momentics/hioload-uring/api"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

var _ api.Debug = (*DebugProbes)(nil)

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook, replacing any previous one.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// Unregister removes a probe.
func (dp *DebugProbes) Unregister(name string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.probes, name)
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// Occupancy reports how many of a manager's slots are in use.
type Occupancy struct {
	InUse     int    `json:"in_use"`
	Cap       int    `json:"cap"`
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
}

// OccupancySource is implemented by coroutine managers.
type OccupancySource interface {
	InUse() int
	Cap() int
	Started() uint64
	Completed() uint64
}

// RegisterOccupancy exposes src under name.
//
// Managers are confined to their worker thread, so the probe must only be
// dumped while that worker is stopped or from the worker itself.
func (dp *DebugProbes) RegisterOccupancy(name string, src OccupancySource) {
	dp.RegisterProbe(name, func() any {
		return Occupancy{InUse: src.InUse(), Cap: src.Cap(), Started: src.Started(), Completed: src.Completed()}
	})
}

// RegisterRuntimeProbes adds process-level probes.
func RegisterRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("runtime.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("runtime.goroutines", func() any { return runtime.NumGoroutine() })
}
