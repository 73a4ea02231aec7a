//go:build linux

// File: accept/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accept

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

// DefaultBacklog is used when SocketOptions.Backlog is zero.
const DefaultBacklog = 4096

// SocketOptions tunes a listening socket.
type SocketOptions struct {
	// Backlog is the listen(2) queue length.
	Backlog int
	// ReusePort sets SO_REUSEPORT so every worker may bind the same address.
	ReusePort bool
	// Mode is applied to unix socket paths when non-zero.
	Mode os.FileMode
}

// Listener is a bound, listening socket plus what the accept coroutine needs
// to know about it.
type Listener struct {
	ACL      api.AccessControl
	Name     string
	Protocol api.ProtocolID
	path     string
	Fd       int
	Kind     api.ListenerKind
}

// Close closes the socket and unlinks a unix socket path.
func (l *Listener) Close() error {
	if l.Fd < 0 {
		return nil
	}
	err := unix.Close(l.Fd)
	l.Fd = -1
	if l.path != "" {
		if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

// Addr reports the bound address of a TCP listener.
func (l *Listener) Addr() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(l.Fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname %s: %w", l.Name, err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("listener %s is not tcp", l.Name)
}

// OpenTCP binds and listens on address ("host:port"). The address family
// decides the kind: IPv4 addresses give ListenerTCP4, IPv6 ones ListenerTCP6.
func OpenTCP(address string, opts SocketOptions) (*Listener, error) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, fmt.Errorf("listener %q: %w", address, err)
	}
	var (
		family int
		sa     unix.Sockaddr
		kind   api.ListenerKind
	)
	if ap.Addr().Is4() {
		family, kind = unix.AF_INET, api.ListenerTCP4
		sa = &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	} else {
		family, kind = unix.AF_INET6, api.ListenerTCP6
		sa = &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("listener %s: socket: %w", address, err)
	}
	if err := tuneTCP(fd, family, opts); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener %s: %w", address, err)
	}
	if err := bindListen(fd, sa, opts.Backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener %s: %w", address, err)
	}
	return &Listener{Name: address, Fd: fd, Kind: kind}, nil
}

func tuneTCP(fd, family int, opts SocketOptions) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if opts.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return fmt.Errorf("IPV6_V6ONLY: %w", err)
		}
	}
	return nil
}

// OpenUnix binds a unix stream socket at path, removing a stale socket file first.
func OpenUnix(path string, opts SocketOptions) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("listener %s: remove stale socket: %w", path, err)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("listener %s: socket: %w", path, err)
	}
	if err := bindListen(fd, &unix.SockaddrUnix{Name: path}, opts.Backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listener %s: %w", path, err)
	}
	l := &Listener{Name: path, Fd: fd, Kind: api.ListenerUnix, path: path}
	if opts.Mode != 0 {
		if err := os.Chmod(path, opts.Mode); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("listener %s: chmod: %w", path, err)
		}
	}
	return l, nil
}

func bindListen(fd int, sa unix.Sockaddr, backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
