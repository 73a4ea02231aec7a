// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Configuration snapshot store with synchronous reload hooks.

package control

import (
	"slices"
	"sync"
	"sync/atomic"
)

// ConfigStore holds the active configuration as an immutable snapshot.
type ConfigStore[C any] struct {
	current   atomic.Pointer[C]
	mu        sync.Mutex
	listeners []func(*C)
}

// NewConfigStore initializes a store holding initial.
func NewConfigStore[C any](initial *C) *ConfigStore[C] {
	cs := &ConfigStore[C]{}
	cs.current.Store(initial)
	return cs
}

// Snapshot returns the active configuration. Callers must not mutate it.
func (cs *ConfigStore[C]) Snapshot() *C {
	return cs.current.Load()
}

// Store replaces the active configuration and runs every reload hook in
// registration order.
func (cs *ConfigStore[C]) Store(cfg *C) {
	cs.current.Store(cfg)
	cs.mu.Lock()
	hooks := slices.Clone(cs.listeners)
	cs.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
}

// OnReload registers a hook called after each Store.
func (cs *ConfigStore[C]) OnReload(fn func(*C)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
