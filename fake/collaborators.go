// File: fake/collaborators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"

	"github.com/momentics/hioload-uring/api"
)

// Published is one call recorded by Publisher.
type Published struct {
	Conn       api.Conn
	Protocol   api.ProtocolID
	Source     api.WorkerID
	Permission api.Permission
}

// Publisher records published connections and answers with Destination.
type Publisher struct {
	mu          sync.Mutex
	calls       []Published
	Destination api.WorkerID
}

// Publish implements api.Publisher.
func (p *Publisher) Publish(source api.WorkerID, conn api.Conn, proto api.ProtocolID, perm api.Permission) api.WorkerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Published{Conn: conn, Protocol: proto, Source: source, Permission: perm})
	return p.Destination
}

// Calls returns the recorded publications.
func (p *Publisher) Calls() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.calls...)
}

// AccessTable answers every query with a fixed verdict and records the peers.
type AccessTable struct {
	mu         sync.Mutex
	seen       []api.Conn
	Permission api.Permission
	Allow      bool
}

// IsRemotePeerAllowed implements api.AccessControl.
func (a *AccessTable) IsRemotePeerAllowed(conn *api.Conn) (api.Permission, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, *conn)
	return a.Permission, a.Allow
}

// Seen returns the connections consulted.
func (a *AccessTable) Seen() []api.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.Conn(nil), a.seen...)
}

// Observer records events.
type Observer struct {
	mu     sync.Mutex
	events []api.Event
}

// Observe implements api.Observer.
func (o *Observer) Observe(e api.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

// Events returns the recorded events.
func (o *Observer) Events() []api.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]api.Event(nil), o.events...)
}

// Names returns the recorded event names in order.
func (o *Observer) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, e := range o.events {
		out[i] = e.Name
	}
	return out
}
