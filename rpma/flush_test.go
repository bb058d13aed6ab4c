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

func TestFlushEngineConstructAndDelete(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	peer := newTestPeer(t, provider)
	fe, err := newFlushEngine(peer)
	if err != nil {
		t.Fatalf("newFlushEngine: %v", err)
	}
	if len(fe.raw) != apmBufSize {
		t.Fatalf("expected a %d-byte landing buffer, got %d", apmBufSize, len(fe.raw))
	}
	if err := fe.delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestFlushEngineDeleteIsNilSafe(t *testing.T) {
	var fe *flushEngine
	if err := fe.delete(); err != nil {
		t.Fatalf("expected nil-receiver delete to be a no-op, got %v", err)
	}
}
