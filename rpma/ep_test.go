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

func TestNewEndpointRejectsEmptyArgs(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	if _, err := NewEndpoint(provider, "", "7000"); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for an empty address")
	}
}

func TestNewEndpointRejectsDuplicateListener(t *testing.T) {
	net := fake.NewNetwork()
	provider := fake.NewProvider(net, verbs.DeviceCaps{})
	ep1, err := NewEndpoint(provider, "127.0.0.1", "7300")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer ep1.Shutdown()

	if _, err := NewEndpoint(provider, "127.0.0.1", "7300"); err == nil {
		t.Fatalf("expected a second listener on the same address to fail")
	}
}

func TestNextConnectionRequestNoEventWhenIdle(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	peer := newTestPeer(t, provider)
	ep, err := NewEndpoint(provider, "127.0.0.1", "7301")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer ep.Shutdown()

	if _, err := ep.NextConnectionRequest(peer, nil); KindOf(err) != KindNoEvent {
		t.Fatalf("expected KindNoEvent with no pending connect requests, got %v", err)
	}
}
