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

// ConnectionRequest is the not-yet-established half of a connection: on
// the active side, produced by NewConnectionRequest before Connect is
// called; on the passive side, yielded by an Endpoint from an incoming
// CONNECT_REQUEST event before Connect is called. Exactly one of Connect
// or Delete consumes it.
type ConnectionRequest struct {
	peer     *Peer
	cm       verbs.CMId
	cfg      *ConnectionConfig
	passive  bool
	cq       *CompletionQueue
	rcq      *CompletionQueue // nil when no dedicated receive CQ
	compChan verbs.CompChannel
	qp       verbs.QP
	private  privateData
}

// fromID shares the CM-id-to-QP setup both connection-request
// constructors need: validate the shared-channel/SRQ-owned-RCQ
// combination, create a completion channel when the channel is shared,
// create the main CQ, create a dedicated receive CQ only when no
// attached SRQ already owns one, and set up the QP. Every object created
// here is unwound in reverse order on any later failure.
func fromID(peer *Peer, cm verbs.CMId, passive bool, cfg *ConnectionConfig) (*ConnectionRequest, error) {
	cfg = orDefaultConfig(cfg)
	srq := cfg.sharedRQ()
	if cfg.sharedCompletionChannel() && srq != nil && srq.hasOwnRCQ() {
		return nil, errInval("conn_req_from_id")
	}

	req := &ConnectionRequest{peer: peer, cm: cm, cfg: cfg, passive: passive}

	var compChan verbs.CompChannel
	if cfg.sharedCompletionChannel() {
		ch, err := peer.provider.CreateCompChannel(peer.ctx)
		if err != nil {
			return nil, errProvider("conn_req_from_id", err)
		}
		compChan = ch
		req.compChan = ch
	}

	cq, err := peer.provider.CreateCQ(peer.ctx, cfg.cqSizeVal(), compChan)
	if err != nil {
		req.unwind()
		return nil, errProvider("conn_req_from_id", err)
	}
	req.cq = newCompletionQueue(cq, compChan != nil)

	if (srq == nil || !srq.hasOwnRCQ()) && cfg.rcqSizeVal() > 0 {
		rcq, err := peer.provider.CreateCQ(peer.ctx, cfg.rcqSizeVal(), compChan)
		if err != nil {
			req.unwind()
			return nil, errProvider("conn_req_from_id", err)
		}
		req.rcq = newCompletionQueue(rcq, compChan != nil)
	}

	recvCQ := req.cq.cq
	if req.rcq != nil {
		recvCQ = req.rcq.cq
	} else if srq != nil && srq.hasOwnRCQ() {
		recvCQ = srq.rcq.cq
	}
	qp, err := peer.setupQP(cm, req.cq.cq, recvCQ, cfg)
	if err != nil {
		req.unwind()
		return nil, err
	}
	req.qp = qp

	if src, dst, ok := cm.GIDStrings(); ok {
		logNotice("conn_req: gid src=%s dst=%s", src, dst)
	}

	return req, nil
}

// unwind tears down whatever fromID had managed to build before a later
// step failed, in reverse construction order. Destroy errors are logged,
// never returned: the caller already has the first, more specific error.
func (r *ConnectionRequest) unwind() {
	if r.qp != nil {
		if err := r.qp.Destroy(); err != nil {
			logWarn("conn_req: qp destroy: %v", err)
		}
	}
	if r.rcq != nil {
		if err := r.rcq.cq.Destroy(); err != nil {
			logWarn("conn_req: rcq destroy: %v", err)
		}
	}
	if r.cq != nil {
		if err := r.cq.cq.Destroy(); err != nil {
			logWarn("conn_req: cq destroy: %v", err)
		}
	}
	if r.compChan != nil {
		if err := r.compChan.Destroy(); err != nil {
			logWarn("conn_req: comp channel destroy: %v", err)
		}
	}
}

// NewConnectionRequest resolves addr:port and its route, then builds the
// active-side connection request (rpma_conn_req_new). timeout comes from
// cfg's TimeoutMs, defaulting to spec.md §6's 1000ms.
func NewConnectionRequest(peer *Peer, provider verbs.Provider, addr, port string, cfg *ConnectionConfig) (*ConnectionRequest, error) {
	trace("conn_req_new")
	if peer == nil || provider == nil || addr == "" || port == "" {
		return nil, errInval("conn_req_new")
	}
	cfg = orDefaultConfig(cfg)

	info, err := NewInfo(provider, addr, port, Active)
	if err != nil {
		return nil, err
	}

	// The active-side id is created on the null event channel (spec.md
	// §4.3, rdma_create_id(NULL, ...) in the original): resolve_addr and
	// resolve_route then run synchronously instead of delivering events
	// on a channel a caller would otherwise have to drain and destroy.
	cm, err := provider.CreateID(nil)
	if err != nil {
		return nil, errProvider("conn_req_new", err)
	}
	if err := info.ResolveAddr(cm, Active, cfg.TimeoutMs()); err != nil {
		cm.Destroy()
		return nil, err
	}
	if err := cm.ResolveRoute(cfg.TimeoutMs()); err != nil {
		cm.Destroy()
		return nil, errProvider("conn_req_new", err)
	}

	req, err := fromID(peer, cm, false, cfg)
	if err != nil {
		cm.Destroy()
		return nil, err
	}
	return req, nil
}

// ConnectionRequestFromEvent builds the passive-side connection request
// out of a CM event an Endpoint has drained. The event must be an
// EventConnectRequest; any other type is KindInval (the event was
// already handled incorrectly by the caller, an Endpoint implementation
// detail rather than a transport surprise).
func ConnectionRequestFromEvent(peer *Peer, ev *verbs.CMEvent, cfg *ConnectionConfig) (*ConnectionRequest, error) {
	trace("conn_req_from_cm_event")
	if peer == nil || ev == nil || ev.Type != verbs.EventConnectRequest || ev.NewID == nil {
		return nil, errInval("conn_req_from_cm_event")
	}
	req, err := fromID(peer, ev.NewID, true, cfg)
	if err != nil {
		return nil, err
	}
	req.private = storePrivateData(ev.PrivateData)
	return req, nil
}

// Connect finishes an active-side request by calling rdma_connect, or
// finishes a passive-side request by calling rdma_accept; either way it
// promotes the request into an established Connection and always
// consumes the request — the caller must not touch it again regardless
// of outcome. privateData is limited to 255 bytes (spec.md §4.4).
func (r *ConnectionRequest) Connect(outgoingPrivateData []byte) (*Connection, error) {
	trace("conn_req_connect")
	if r == nil {
		return nil, errInval("conn_req_connect")
	}
	if err := validateOutgoingPrivateData(outgoingPrivateData); err != nil {
		return nil, err
	}

	param := &verbs.ConnParam{
		ResponderResources: maxResponderResources,
		InitiatorDepth:      maxInitiatorDepth,
		FlowControl:         1,
		RetryCount:          connRetryCount,
		RNRRetryCount:       connRNRRetryCount,
		PrivateData:         outgoingPrivateData,
	}

	// Passive and active paths build the Connection on opposite sides of
	// the provider call (original rpma_conn_new_accept/rpma_conn_new_connect):
	// accept happens first, then the request is re-packed into a
	// Connection carrying the request's own stored (inbound) private
	// data; connect instead builds the Connection first, since the
	// asynchronous ESTABLISHED event is delivered on the channel the id
	// is migrated onto before rdma_connect is called, and only then
	// calls connect, deleting the Connection on failure.
	if r.passive {
		if err := r.cm.Accept(param); err != nil {
			r.unwind()
			r.cm.Destroy()
			return nil, errProvider("conn_req_connect", err)
		}
		return newConnection(r, r.private)
	}

	conn, err := newConnection(r, transferPrivateData(outgoingPrivateData))
	if err != nil {
		return nil, err
	}
	if err := r.cm.Connect(param); err != nil {
		conn.Delete()
		return nil, errProvider("conn_req_connect", err)
	}
	return conn, nil
}

// Delete abandons the request instead of completing it: on the passive
// side it rejects the peer's offer before destroying the id; on the
// active side there is nothing to reject, only to tear down. Errors from
// the individual steps are combined first-wins; every step still runs.
func (r *ConnectionRequest) Delete() error {
	trace("conn_req_delete")
	if r == nil {
		return nil
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if r.passive {
		if err := r.cm.Reject(); err != nil {
			keep(errProvider("conn_req_delete", err))
		}
	}
	r.unwind()
	if err := r.cm.Destroy(); err != nil {
		keep(errProvider("conn_req_delete", err))
	}
	return first
}

// PrivateData returns the private data delivered with the incoming
// CONNECT_REQUEST event, or nil on the active side / when none arrived.
func (r *ConnectionRequest) PrivateData() []byte { return r.private.Bytes() }
