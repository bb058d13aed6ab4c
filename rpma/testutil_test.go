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
	"testing"

	"github.com/pmem/go-rpma/internal/verbs"
	"github.com/pmem/go-rpma/internal/verbs/fake"
)

func newTestPeer(t *testing.T, provider verbs.Provider) *Peer {
	t.Helper()
	ch, err := provider.CreateEventChannel()
	if err != nil {
		t.Fatalf("CreateEventChannel: %v", err)
	}
	defer ch.Destroy()
	id, err := provider.CreateID(ch)
	if err != nil {
		t.Fatalf("CreateID: %v", err)
	}
	defer id.Destroy()
	p, err := NewPeer(provider, id.Context())
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	return p
}

// connPair wires up a full client/server handshake over a shared fake
// Network and drains both sides' ESTABLISHED events, returning ready-to-use
// connections along with their peers and providers for cleanup.
type connPair struct {
	clientProvider, serverProvider verbs.Provider
	clientPeer, serverPeer         *Peer
	client, server                 *Connection
	ep                             *Endpoint
}

func newConnPair(t *testing.T, cfg *ConnectionConfig) *connPair {
	t.Helper()
	net := fake.NewNetwork()
	caps := verbs.DeviceCaps{}
	clientProvider := fake.NewProvider(net, caps)
	serverProvider := fake.NewProvider(net, caps)

	clientPeer := newTestPeer(t, clientProvider)
	serverPeer := newTestPeer(t, serverProvider)

	ep, err := NewEndpoint(serverProvider, "127.0.0.1", "7471")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	req, err := NewConnectionRequest(clientPeer, clientProvider, "127.0.0.1", "7471", cfg)
	if err != nil {
		t.Fatalf("NewConnectionRequest: %v", err)
	}
	clientConn, err := req.Connect(nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}

	passiveReq, err := ep.NextConnectionRequest(serverPeer, cfg)
	if err != nil {
		t.Fatalf("NextConnectionRequest: %v", err)
	}
	serverConn, err := passiveReq.Connect(nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}

	if ev, err := clientConn.NextEvent(); err != nil || ev != EventEstablished {
		t.Fatalf("client NextEvent: ev=%v err=%v", ev, err)
	}
	if ev, err := serverConn.NextEvent(); err != nil || ev != EventEstablished {
		t.Fatalf("server NextEvent: ev=%v err=%v", ev, err)
	}

	return &connPair{
		clientProvider: clientProvider, serverProvider: serverProvider,
		clientPeer: clientPeer, serverPeer: serverPeer,
		client: clientConn, server: serverConn, ep: ep,
	}
}

func (p *connPair) Close() {
	p.client.Delete()
	p.server.Delete()
	p.ep.Shutdown()
	p.clientPeer.Delete()
	p.serverPeer.Delete()
}
