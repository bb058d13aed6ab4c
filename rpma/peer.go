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

import "github.com/pmem/go-rpma/internal/verbs"

// Peer is the process-level protection-domain handle bound to one
// transport device context; it is the parent of every registration and
// queue pair derived from it. Destroying a Peer while derivatives are
// still alive is a programming error, not a recoverable one (spec.md §3).
type Peer struct {
	provider verbs.Provider
	ctx      verbs.Context
	pd       verbs.ProtectionDomain
	caps     verbs.DeviceCaps
	iwarp    bool
}

// NewPeer allocates a protection domain over ctx and probes the device
// for on-demand-paging and native-atomic-write support, both recorded for
// later use by RegisterMemory and the QP setup path.
func NewPeer(provider verbs.Provider, ctx verbs.Context) (*Peer, error) {
	trace("peer_new")
	if provider == nil || ctx == nil {
		return nil, errInval("peer_new")
	}
	pd, err := provider.AllocPD(ctx)
	if err != nil {
		logError("peer_new", err)
		return nil, errProvider("peer_new", err)
	}
	caps, err := ctx.QueryDevice()
	if err != nil {
		// capability probing is best-effort: a query failure degrades to
		// "no extra capabilities" rather than failing peer construction,
		// matching upstream's treatment of rpma_utils_ibv_context_is_odp_capable
		// as advisory.
		logWarn("peer_new: QueryDevice: %v", err)
	}
	return &Peer{provider: provider, ctx: ctx, pd: pd, caps: caps, iwarp: caps.IsIWARP}, nil
}

// Delete releases the protection domain. A Peer outlives every object
// derived from it; calling Delete while MRs, QPs, or Connections rooted
// in this Peer are still alive is undefined by contract, not guarded
// against here (spec.md §3).
func (p *Peer) Delete() error {
	trace("peer_delete")
	if p == nil || p.pd == nil {
		return nil
	}
	if err := p.pd.Dealloc(); err != nil {
		logError("peer_delete", err)
		return errProvider("peer_delete", err)
	}
	return nil
}

// SupportsODP reports whether the underlying device supports on-demand
// paging.
func (p *Peer) SupportsODP() bool { return p.caps.ODPSupported }

// SupportsNativeAtomicWrite reports whether the underlying device can
// post a native 8-byte atomic write, rather than falling back to an
// inlined, fenced RDMA-WRITE.
func (p *Peer) SupportsNativeAtomicWrite() bool { return p.caps.NativeAtomicWrite }

// setupQP sets up the QP backing a connection request: max SGE 1, max
// inline 8, reliable-connected, sq_sig_all=0 (every work request decides
// its own completion signaling). recvCQ is the SRQ's own receive CQ if
// attached, else the connection's dedicated receive CQ, else the main CQ.
func (p *Peer) setupQP(cm verbs.CMId, sendCQ, recvCQ verbs.CQ, cfg *ConnectionConfig) (verbs.QP, error) {
	trace("peer_setup_qp")
	if recvCQ == nil {
		recvCQ = sendCQ
	}
	attr := verbs.QPInitAttr{
		SendCQ:         sendCQ,
		RecvCQ:         recvCQ,
		MaxSendWR:      uint32(cfg.sqSize()),
		MaxRecvWR:      uint32(cfg.rqSize()),
		MaxSendSGE:     rpmaMaxSGE,
		MaxRecvSGE:     rpmaMaxSGE,
		MaxInlineData:  rpmaMaxInlineData,
		SignalAll:      false,
		NativeAtomicWR: p.caps.NativeAtomicWrite,
	}
	qp, err := cm.CreateQP(p.pd, attr)
	if err != nil {
		logError("peer_setup_qp", err)
		return nil, errProvider("peer_setup_qp", err)
	}
	return qp, nil
}
