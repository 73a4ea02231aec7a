//go:build linux

// File: accept/pending.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accept

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

const sockaddrLen = api.SockaddrBufSize - 8

// Allocator serves the memory backing a pending accept.
type Allocator interface {
	Alloc(n, align int) ([]byte, error)
}

// PendingAccept is the peer address storage the kernel fills in for one
// accept. It must stay untouched from submission until the completion.
type PendingAccept struct {
	buf []byte
}

// NewPendingAccept carves a fresh record from alloc.
func NewPendingAccept(alloc Allocator) (*PendingAccept, error) {
	b, err := alloc.Alloc(api.SockaddrBufSize, 8)
	if err != nil {
		return nil, fmt.Errorf("pending accept: %w", err)
	}
	return &PendingAccept{buf: b}, nil
}

// Op builds the accept operation for listenFd.
func (p *PendingAccept) Op(listenFd int) api.AcceptOp {
	return api.AcceptOp{ListenFd: listenFd, Peer: p.buf}
}

// Len returns the address length reported by the kernel.
func (p *PendingAccept) Len() int {
	return int(binary.NativeEndian.Uint32(p.buf[sockaddrLen:]))
}

// Peer decodes the IPv4 or IPv6 peer address written by the kernel.
func (p *PendingAccept) Peer() (netip.AddrPort, error) {
	n := min(p.Len(), sockaddrLen)
	if n < 2 {
		return netip.AddrPort{}, fmt.Errorf("peer address too short (%d bytes)", n)
	}
	sa := p.buf[:n]
	switch family := binary.NativeEndian.Uint16(sa); family {
	case unix.AF_INET:
		if n < unix.SizeofSockaddrInet4 {
			break
		}
		port := binary.BigEndian.Uint16(sa[2:4])
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(sa[4:8])), port), nil
	case unix.AF_INET6:
		if n < unix.SizeofSockaddrInet6 {
			break
		}
		port := binary.BigEndian.Uint16(sa[2:4])
		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(sa[8:24])), port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("unexpected peer address family %d", family)
	}
	return netip.AddrPort{}, fmt.Errorf("truncated peer address (%d bytes)", n)
}

// PeerCred reads the SO_PEERCRED credentials of a connected unix socket.
func PeerCred(fd int) (*api.PeerCred, error) {
	u, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return nil, fmt.Errorf("SO_PEERCRED: %w", err)
	}
	return &api.PeerCred{PID: u.Pid, UID: u.Uid, GID: u.Gid}, nil
}
