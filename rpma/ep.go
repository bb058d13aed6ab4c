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

// endpointBacklog is the rdma_listen backlog depth; this library does
// not expose it as a tunable since upstream does not either.
const endpointBacklog = 16

// Endpoint is the passive-side listener: a CM id bound to a local
// address, its own event channel, yielding incoming connection requests
// one at a time.
type Endpoint struct {
	provider verbs.Provider
	cm       verbs.CMId
	ch       verbs.EventChannel
	info     *Info
}

// NewEndpoint binds a CM id to addr:port and starts listening.
func NewEndpoint(provider verbs.Provider, addr, port string) (*Endpoint, error) {
	trace("ep_listen")
	if provider == nil || addr == "" || port == "" {
		return nil, errInval("ep_listen")
	}
	info, err := NewInfo(provider, addr, port, Passive)
	if err != nil {
		return nil, err
	}
	ch, err := provider.CreateEventChannel()
	if err != nil {
		return nil, errProvider("ep_listen", err)
	}
	cm, err := provider.CreateID(ch)
	if err != nil {
		ch.Destroy()
		return nil, errProvider("ep_listen", err)
	}
	if err := info.BindAddr(cm, Passive); err != nil {
		cm.Destroy()
		ch.Destroy()
		return nil, err
	}
	if err := cm.Listen(endpointBacklog); err != nil {
		cm.Destroy()
		ch.Destroy()
		return nil, errProvider("ep_listen", err)
	}
	return &Endpoint{provider: provider, cm: cm, ch: ch, info: info}, nil
}

// Fd returns the endpoint's event channel fd, for epoll-style waiting.
func (e *Endpoint) Fd() int { return e.ch.Fd() }

// NextConnectionRequest drains one CM event from the endpoint's channel.
// Anything other than a CONNECT_REQUEST is KindUnknown: the endpoint's
// CM id never receives ESTABLISHED/DISCONNECTED events of its own, so
// seeing one here indicates a provider-level inconsistency rather than a
// recoverable condition. KindNoEvent surfaces when nothing is queued.
func (e *Endpoint) NextConnectionRequest(peer *Peer, cfg *ConnectionConfig) (*ConnectionRequest, error) {
	trace("ep_next_conn_req")
	ev, err := e.provider.GetCMEvent(e.ch)
	if err != nil {
		if err == verbs.ErrNoPendingEvent {
			return nil, &Error{Kind: KindNoEvent, Op: "ep_next_conn_req"}
		}
		logError("ep_next_conn_req", err)
		return nil, errProvider("ep_next_conn_req", err)
	}
	if ev.Type != verbs.EventConnectRequest {
		if ackErr := e.provider.AckCMEvent(ev); ackErr != nil {
			logWarn("ep_next_conn_req: ack: %v", ackErr)
		}
		return nil, errUnknown("ep_next_conn_req")
	}

	req, err := ConnectionRequestFromEvent(peer, ev, cfg)
	if ackErr := e.provider.AckCMEvent(ev); ackErr != nil {
		logWarn("ep_next_conn_req: ack: %v", ackErr)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Shutdown destroys the endpoint's CM id and event channel.
func (e *Endpoint) Shutdown() error {
	trace("ep_shutdown")
	var first error
	if e.cm != nil {
		if err := e.cm.Destroy(); err != nil {
			first = errProvider("ep_shutdown", err)
		}
	}
	if e.ch != nil {
		if err := e.ch.Destroy(); err != nil && first == nil {
			first = errProvider("ep_shutdown", err)
		}
	}
	return first
}
