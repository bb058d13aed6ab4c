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

func TestNewSharedRQDefaults(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	peer := newTestPeer(t, provider)
	srq, err := NewSharedRQ(peer, nil)
	if err != nil {
		t.Fatalf("NewSharedRQ: %v", err)
	}
	defer srq.Delete()
	if srq.RQSize() != defaultSRQRQSize {
		t.Fatalf("got rq size %d", srq.RQSize())
	}
	if srq.RecvCQ() == nil {
		t.Fatalf("expected a dedicated receive CQ by default")
	}
	if !srq.hasOwnRCQ() {
		t.Fatalf("expected hasOwnRCQ true")
	}
}

func TestSharedRQWithoutOwnRCQ(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	peer := newTestPeer(t, provider)
	cfg := NewSRQConfig()
	cfg.SetRCQSize(0)
	srq, err := NewSharedRQ(peer, cfg)
	if err != nil {
		t.Fatalf("NewSharedRQ: %v", err)
	}
	defer srq.Delete()
	if srq.RecvCQ() != nil {
		t.Fatalf("expected no dedicated receive CQ")
	}
}

func TestSharedRQAttachDetach(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	peer := newTestPeer(t, provider)
	srq, err := NewSharedRQ(peer, nil)
	if err != nil {
		t.Fatalf("NewSharedRQ: %v", err)
	}
	defer srq.Delete()

	c := &Connection{}
	srq.attach(c)
	if _, ok := srq.conns[c]; !ok {
		t.Fatalf("expected the connection to be attached")
	}
	srq.detach(c)
	if _, ok := srq.conns[c]; ok {
		t.Fatalf("expected the connection to be detached")
	}
}

func TestSharedRQDeleteIsNilSafe(t *testing.T) {
	var srq *SharedRQ
	if err := srq.Delete(); err != nil {
		t.Fatalf("expected nil-receiver Delete to be a no-op, got %v", err)
	}
}
