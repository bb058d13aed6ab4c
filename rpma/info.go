// This file is part of go-rpma, a Go port of librpma's connection-oriented
// RDMA API.
// Copyright (C) 2024 The go-rpma Authors
//
// go-rpma is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// go-rpma is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package rpma

import (
	"net"

	"github.com/pmem/go-rpma/internal/verbs"
)

// Side tags whether an Info record backs a listener (Passive) or an
// outgoing resolve (Active). Info is short-lived: built for one bind or
// resolve, then discarded; it is never shared across connections.
type Side int

const (
	Active Side = iota
	Passive
)

// Info is the cached, side-tagged address/route translation record
// spec.md §3/§4.1 describes.
type Info struct {
	side     Side
	addr     string
	port     string
	addrInfo verbs.AddrInfo
	provider verbs.Provider
}

// NewInfo queries the address-info provider with hints requesting a
// reliable, connection-oriented, TCP-port-space QP; side selects whether
// the passive flag is set.
func NewInfo(provider verbs.Provider, addr, port string, side Side) (*Info, error) {
	trace("info_new")
	if provider == nil || addr == "" || port == "" {
		return nil, errInval("info_new")
	}
	vside := verbs.SideActive
	if side == Passive {
		vside = verbs.SidePassive
	}
	ai, err := provider.GetAddrInfo(addr, port, vside)
	if err != nil {
		logError("info_new", err)
		return nil, errProvider("info_new", err)
	}
	return &Info{side: side, addr: addr, port: port, addrInfo: ai, provider: provider}, nil
}

// Side returns the side tag the Info was created with.
func (i *Info) Side() Side { return i.side }

// ResolveAddr resolves cm against the cached record's remote address
// (addr:port). No local source address is passed, so the provider picks
// the source; the local side is not bound to an address from the record.
// Requires the Info's side to match the intended use.
func (i *Info) ResolveAddr(cm verbs.CMId, wantSide Side, timeoutMs int) error {
	trace("info_resolve_addr")
	if i.side != wantSide {
		return errInval("info_resolve_addr")
	}
	remote := hostPort{host: i.addr, port: i.port}
	if err := cm.ResolveAddr(nil, remote, timeoutMs); err != nil {
		logError("info_resolve_addr", err)
		return errProvider("info_resolve_addr", err)
	}
	return nil
}

// BindAddr binds cm to the local address only.
func (i *Info) BindAddr(cm verbs.CMId, wantSide Side) error {
	trace("info_bind_addr")
	if i.side != wantSide {
		return errInval("info_bind_addr")
	}
	local := hostPort{host: i.addr, port: i.port}
	if err := cm.BindAddr(local); err != nil {
		logError("info_bind_addr", err)
		return errProvider("info_bind_addr", err)
	}
	return nil
}

// hostPort is the minimal net.Addr implementation used to hand
// (addr, port) pairs down to the verbs.Provider boundary without pulling
// in a real net.TCPAddr resolve (which would duplicate rdma_getaddrinfo's
// job).
type hostPort struct {
	host, port string
}

func (h hostPort) Network() string { return "tcp" }
func (h hostPort) String() string  { return net.JoinHostPort(h.host, h.port) }

// GetIbvContext composes Info + a transient CM id to extract the device
// context corresponding to an address. For Active it resolves; for
// Passive it binds. The transient CM id is always destroyed before
// return; a destroy error is surfaced but never masks an earlier failure.
func GetIbvContext(provider verbs.Provider, addr, port string, side Side, timeoutMs int) (verbs.Context, error) {
	trace("get_ibv_context")
	info, err := NewInfo(provider, addr, port, side)
	if err != nil {
		return nil, err
	}
	ch, err := provider.CreateEventChannel()
	if err != nil {
		return nil, errProvider("get_ibv_context", err)
	}
	defer ch.Destroy()

	id, err := provider.CreateID(ch)
	if err != nil {
		return nil, errProvider("get_ibv_context", err)
	}

	var opErr error
	if side == Passive {
		opErr = info.BindAddr(id, Passive)
	} else {
		opErr = info.ResolveAddr(id, Active, timeoutMs)
	}

	var ctx verbs.Context
	if opErr == nil {
		ctx = id.Context()
	}

	if destroyErr := id.Destroy(); destroyErr != nil {
		logWarn("get_ibv_context: rdma_destroy_id: %v", destroyErr)
		if opErr == nil {
			opErr = errProvider("get_ibv_context", destroyErr)
		}
	}
	if opErr != nil {
		return nil, opErr
	}
	return ctx, nil
}
