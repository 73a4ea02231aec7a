// control/stats.go
// Author: momentics <momentics@gmail.com>
//
// Accept pipeline counters. Shared by every worker; all updates are atomic.

package control

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-uring/api"
)

type kindCounters struct {
	unplaced    atomic.Uint64
	denied      atomic.Uint64
	failed      atomic.Uint64
	closeFailed atomic.Uint64
}

// AcceptStats counts accept outcomes per listener kind and published
// connections per destination worker.
type AcceptStats struct {
	kinds     [api.NumListenerKinds]kindCounters
	published []atomic.Uint64

	mu      sync.Mutex
	byErrno map[int32]uint64
}

// NewAcceptStats sizes the per-destination counters for workers workers.
func NewAcceptStats(workers int) *AcceptStats {
	return &AcceptStats{
		published: make([]atomic.Uint64, max(workers, 1)),
		byErrno:   make(map[int32]uint64),
	}
}

// Published counts a connection handed to worker dst.
func (s *AcceptStats) Published(_ api.ListenerKind, dst api.WorkerID) {
	if int(dst) >= 0 && int(dst) < len(s.published) {
		s.published[dst].Add(1)
	}
}

// Unplaced counts a connection no worker could take.
func (s *AcceptStats) Unplaced(kind api.ListenerKind) { s.kinds[kind].unplaced.Add(1) }

// Denied counts a connection refused by access control.
func (s *AcceptStats) Denied(kind api.ListenerKind) { s.kinds[kind].denied.Add(1) }

// Failed counts a failed accept with its negative errno result.
func (s *AcceptStats) Failed(kind api.ListenerKind, result int32) {
	s.kinds[kind].failed.Add(1)
	s.mu.Lock()
	s.byErrno[-result]++
	s.mu.Unlock()
}

// CloseFailed counts a close of a denied connection that reported an error.
func (s *AcceptStats) CloseFailed(kind api.ListenerKind) { s.kinds[kind].closeFailed.Add(1) }

// KindSnapshot holds the counters of one listener kind.
type KindSnapshot struct {
	Unplaced    uint64 `json:"unplaced"`
	Denied      uint64 `json:"denied"`
	Failed      uint64 `json:"failed"`
	CloseFailed uint64 `json:"close_failed"`
}

// StatsSnapshot is a point-in-time copy of AcceptStats.
type StatsSnapshot struct {
	Kinds     map[string]KindSnapshot `json:"kinds"`
	ByErrno   map[int32]uint64        `json:"by_errno"`
	Published []uint64                `json:"published"`
}

// Snapshot copies the counters.
func (s *AcceptStats) Snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Kinds:     make(map[string]KindSnapshot, api.NumListenerKinds),
		Published: make([]uint64, len(s.published)),
	}
	for i := range s.published {
		out.Published[i] = s.published[i].Load()
	}
	for k := range s.kinds {
		c := &s.kinds[k]
		out.Kinds[api.ListenerKind(k).String()] = KindSnapshot{
			Unplaced:    c.unplaced.Load(),
			Denied:      c.denied.Load(),
			Failed:      c.failed.Load(),
			CloseFailed: c.closeFailed.Load(),
		}
	}
	s.mu.Lock()
	out.ByErrno = make(map[int32]uint64, len(s.byErrno))
	for k, v := range s.byErrno {
		out.ByErrno[k] = v
	}
	s.mu.Unlock()
	return out
}

// TotalPublished sums the per-destination counters.
func (s StatsSnapshot) TotalPublished() uint64 {
	var n uint64
	for _, v := range s.Published {
		n += v
	}
	return n
}
