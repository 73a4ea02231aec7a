// File: api/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accepted connection model and the collaborators consulted for each one:
// access control tables and the connection publisher.

package api

import (
	"fmt"
	"net/netip"
)

// ListenerKind selects the listener family. Its value doubles as the index of
// the coroutine manager serving that kind.
type ListenerKind uint8

const (
	ListenerTCP4 ListenerKind = iota
	ListenerTCP6
	ListenerUnix

	// NumListenerKinds is the size of every per-kind dispatch table.
	NumListenerKinds = 3
)

func (k ListenerKind) String() string {
	switch k {
	case ListenerTCP4:
		return "tcp4"
	case ListenerTCP6:
		return "tcp6"
	case ListenerUnix:
		return "unix"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// WorkerID identifies a worker thread.
type WorkerID int

// NoWorker is returned by a Publisher that could not place a connection.
const NoWorker WorkerID = -1

// ProtocolID names the protocol a listener serves, passed through to the publisher.
type ProtocolID string

// Permission is the opaque verdict payload produced by an access control table.
type Permission uint64

// PeerCred is the local credential identity of a unix-domain peer.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// Conn is a freshly accepted connection.
type Conn struct {
	// Peer is set for TCP peers.
	Peer netip.AddrPort
	// Cred is set for unix-domain peers when credentials could be read.
	Cred *PeerCred
	// Listener is the configured name or address of the accepting listener.
	Listener string
	Fd       int
	Kind     ListenerKind
}

func (c *Conn) String() string {
	if c.Cred != nil {
		return fmt.Sprintf("%s fd=%d pid=%d uid=%d", c.Kind, c.Fd, c.Cred.PID, c.Cred.UID)
	}
	return fmt.Sprintf("%s fd=%d peer=%s", c.Kind, c.Fd, c.Peer)
}

// AccessControl maps a remote peer identity to a permission, or denies it.
type AccessControl interface {
	IsRemotePeerAllowed(conn *Conn) (Permission, bool)
}

// Publisher places an accepted connection on a worker's inbound queue and
// reports which worker it chose.
type Publisher interface {
	Publish(source WorkerID, conn Conn, proto ProtocolID, perm Permission) WorkerID
}
