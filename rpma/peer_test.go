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

func TestNewPeerRejectsNilArgs(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	if _, err := NewPeer(nil, nil); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for nil provider and ctx")
	}
	ch, _ := provider.CreateEventChannel()
	id, _ := provider.CreateID(ch)
	if _, err := NewPeer(nil, id.Context()); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for nil provider")
	}
}

func TestPeerCapabilityProbes(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{ODPSupported: true, NativeAtomicWrite: true})
	peer := newTestPeer(t, provider)
	if !peer.SupportsODP() {
		t.Fatalf("expected ODP support to be probed from device caps")
	}
	if !peer.SupportsNativeAtomicWrite() {
		t.Fatalf("expected native atomic write support to be probed")
	}
}

func TestPeerDeleteIsIdempotentOnNil(t *testing.T) {
	var p *Peer
	if err := p.Delete(); err != nil {
		t.Fatalf("expected nil-receiver Delete to be a no-op, got %v", err)
	}
}
