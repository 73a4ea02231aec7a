// File: access/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Table is the reference access control table: CIDR rules for TCP peers,
// uid rules for unix peers, and a default verdict for everything else.

package access

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	"github.com/momentics/hioload-uring/api"
)

// Verdict is the outcome of a rule.
type Verdict struct {
	Permission api.Permission
	Allow      bool
}

// Deny is the zero verdict.
var Deny = Verdict{}

// CIDRRule matches TCP peers inside Prefix.
type CIDRRule struct {
	Prefix netip.Prefix
	Verdict
}

// UIDRule matches unix peers by user id.
type UIDRule struct {
	UID uint32
	Verdict
}

// Table is immutable after construction and safe for concurrent use.
type Table struct {
	cidrs []CIDRRule
	uids  map[uint32]Verdict
	def   Verdict
}

var _ api.AccessControl = (*Table)(nil)

// New builds a table. Overlapping prefixes are allowed; the longest match
// wins. Duplicate prefixes or uids are rejected.
func New(cidrs []CIDRRule, uids []UIDRule, def Verdict) (*Table, error) {
	t := &Table{
		cidrs: make([]CIDRRule, 0, len(cidrs)),
		uids:  make(map[uint32]Verdict, len(uids)),
		def:   def,
	}
	seen := make(map[netip.Prefix]bool, len(cidrs))
	for _, r := range cidrs {
		if !r.Prefix.IsValid() {
			return nil, fmt.Errorf("access rule: invalid prefix %v", r.Prefix)
		}
		p := r.Prefix.Masked()
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		if seen[p] {
			return nil, fmt.Errorf("access rule: duplicate prefix %s", p)
		}
		seen[p] = true
		t.cidrs = append(t.cidrs, CIDRRule{Prefix: p, Verdict: r.Verdict})
	}
	slices.SortStableFunc(t.cidrs, func(a, b CIDRRule) int {
		return cmp.Compare(b.Prefix.Bits(), a.Prefix.Bits())
	})
	for _, r := range uids {
		if _, dup := t.uids[r.UID]; dup {
			return nil, fmt.Errorf("access rule: duplicate uid %d", r.UID)
		}
		t.uids[r.UID] = r.Verdict
	}
	return t, nil
}

// AllowAll returns a table that admits every peer with perm.
func AllowAll(perm api.Permission) *Table {
	return &Table{def: Verdict{Permission: perm, Allow: true}}
}

// IsRemotePeerAllowed implements api.AccessControl.
func (t *Table) IsRemotePeerAllowed(conn *api.Conn) (api.Permission, bool) {
	v := t.Lookup(conn)
	if !v.Allow {
		return 0, false
	}
	return v.Permission, true
}

// Lookup returns the verdict for conn.
func (t *Table) Lookup(conn *api.Conn) Verdict {
	switch conn.Kind {
	case api.ListenerUnix:
		if conn.Cred == nil {
			return t.def
		}
		if v, ok := t.uids[conn.Cred.UID]; ok {
			return v
		}
		return t.def
	default:
		if !conn.Peer.IsValid() {
			return t.def
		}
		addr := conn.Peer.Addr().Unmap()
		for _, r := range t.cidrs {
			if r.Prefix.Contains(addr) {
				return r.Verdict
			}
		}
		return t.def
	}
}
