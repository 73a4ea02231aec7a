//go:build linux

// File: accept/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The accept coroutine: SubmitAccept -> AwaitAccept -> Decide, forever.

package accept

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/coro"
	"golang.org/x/sys/unix"
)

// Recorder receives the counters of the accept pipeline.
type Recorder interface {
	Published(kind api.ListenerKind, dst api.WorkerID)
	Unplaced(kind api.ListenerKind)
	Denied(kind api.ListenerKind)
	Failed(kind api.ListenerKind, result int32)
	CloseFailed(kind api.ListenerKind)
}

// Info is the immutable description of one accept coroutine.
type Info struct {
	Ring      api.CompletionRing
	Listener  *Listener
	Publisher api.Publisher
	Observer  api.Observer
	Stats     Recorder
	Worker    api.WorkerID
}

// Start is the start argument of an accept coroutine. It carries nothing.
type Start struct{}

// Done is the result type of an accept coroutine. The loop never completes.
type Done struct{}

// Body is the accept coroutine.
func Body(co *coro.Co[Info], _ Start) Done {
	info := co.Info()
	for {
		pa, res := submitAccept(co, info)
		if res.Result < 0 {
			onFailure(info, res.Result)
			continue
		}
		decide(co, info, pa, int(res.Result))
	}
}

// submitAccept retries until the accept is queued, rebuilding the pending
// record from a reset arena each time, and returns its completion.
func submitAccept(co *coro.Co[Info], info Info) (*PendingAccept, coro.Resume) {
	for {
		// Nothing is in flight here: the previous accept and close completed.
		co.Arena().Reset()
		pa, err := NewPendingAccept(co)
		if err != nil {
			panic(api.NewDefect("arena cannot hold a pending accept", "listener", info.Listener.Name, "error", err.Error()))
		}
		res, ok := co.Submit(info.Ring, pa.Op(info.Listener.Fd))
		if !ok {
			continue
		}
		if res.Result == -int32(unix.ECANCELED) {
			panic(api.NewDefect("accept cancelled", "listener", info.Listener.Name, "handle", co.Handle().String()))
		}
		return pa, res
	}
}

func decide(co *coro.Co[Info], info Info, pa *PendingAccept, fd int) {
	l := info.Listener
	conn := api.Conn{Fd: fd, Kind: l.Kind, Listener: l.Name}
	fields := map[string]any{"listener": l.Name, "kind": l.Kind.String(), "fd": fd, "worker": int(info.Worker)}

	if l.Kind == api.ListenerUnix {
		cred, err := PeerCred(fd)
		if err != nil {
			fields["cred_error"] = err.Error()
		} else {
			conn.Cred = cred
			fields["pid"], fields["uid"], fields["gid"] = cred.PID, cred.UID, cred.GID
		}
	} else {
		peer, err := pa.Peer()
		if err != nil {
			fields["peer_error"] = err.Error()
		} else {
			conn.Peer = peer
			fields["peer"] = peer.String()
		}
	}

	perm, allowed := api.Permission(0), true
	if l.ACL != nil {
		perm, allowed = l.ACL.IsRemotePeerAllowed(&conn)
	}
	if !allowed {
		info.Stats.Denied(l.Kind)
		if r := closeFd(co, info, fd); r < 0 {
			fields["close_errno"] = unix.Errno(-r).Error()
		}
		emit(info, "accept.denied", api.CategoryAccess, api.SeverityNotice, fields)
		return
	}

	dst := info.Publisher.Publish(info.Worker, conn, l.Protocol, perm)
	if dst == api.NoWorker {
		info.Stats.Unplaced(l.Kind)
		emit(info, "accept.unplaced", api.CategoryPublish, api.SeverityWarning, fields)
		return
	}
	info.Stats.Published(l.Kind, dst)
	fields["destination"] = int(dst)
	fields["permission"] = uint64(perm)
	emit(info, "accept.published", api.CategoryPublish, api.SeverityDebug, fields)
}

func onFailure(info Info, result int32) {
	name, sev, class := Classify(result)
	l := info.Listener
	if class == ClassDefect {
		panic(api.NewDefect("accept failed on broken listener", "listener", l.Name, "errno", unix.Errno(-result).Error()))
	}
	info.Stats.Failed(l.Kind, result)
	emit(info, "accept."+name, api.CategoryAccept, sev, map[string]any{
		"listener": l.Name,
		"kind":     l.Kind.String(),
		"errno":    unix.Errno(-result).Error(),
		"worker":   int(info.Worker),
	})
}

// closeFd closes fd through the ring, retrying the same close while the ring
// is full, and returns the close result.
func closeFd(co *coro.Co[Info], info Info, fd int) int32 {
	for {
		res, ok := co.Submit(info.Ring, api.CloseOp{Fd: fd})
		if !ok {
			continue
		}
		if res.Result == -int32(unix.ECANCELED) {
			panic(api.NewDefect("close cancelled", "fd", fd, "handle", co.Handle().String()))
		}
		if res.Result < 0 {
			info.Stats.CloseFailed(info.Listener.Kind)
		}
		return res.Result
	}
}

func emit(info Info, name string, cat api.Category, sev api.Severity, fields map[string]any) {
	if info.Observer == nil {
		return
	}
	info.Observer.Observe(api.Event{Name: name, Category: cat, Severity: sev, Fields: fields})
}
