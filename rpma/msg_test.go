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
)

func TestSendRejectsZeroFlags(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if err := p.client.Send(nil, 0, 0, 0, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for flags==0, got %v", err)
	}
}

func TestSendZeroByteIsWellDefined(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if err := p.client.Send(nil, 0, 0, CompletionAlways, 1); err != nil {
		t.Fatalf("expected a 0-byte send to succeed, got %v", err)
	}
}

func TestSendNilSrcRejectsNonZeroOffset(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if err := p.client.Send(nil, 4, 0, CompletionAlways, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for a nil src with non-zero offset, got %v", err)
	}
}

func TestSendRecvExchangesACompletion(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()

	rbuf := make([]byte, 32)
	rmr, err := p.serverPeer.RegisterMemory(rbuf, UsageRecv)
	if err != nil {
		t.Fatalf("RegisterMemory recv: %v", err)
	}
	defer rmr.Deregister()
	if err := p.server.Recv(rmr, 0, 32, 7); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	sbuf := make([]byte, 32)
	smr, err := p.clientPeer.RegisterMemory(sbuf, UsageSend)
	if err != nil {
		t.Fatalf("RegisterMemory send: %v", err)
	}
	defer smr.Deregister()
	if err := p.client.Send(smr, 0, 32, CompletionAlways, 9); err != nil {
		t.Fatalf("Send: %v", err)
	}

	wcs := make([]verbs.WC, 1)
	n, err := p.client.CQ().GetCompletions(wcs)
	if err != nil || n != 1 || wcs[0].WRID != 9 {
		t.Fatalf("expected the sender's completion, got n=%d err=%v wcs=%+v", n, err, wcs)
	}

	rwcs := make([]verbs.WC, 1)
	n, err = p.server.CQ().GetCompletions(rwcs)
	if err != nil || n != 1 || rwcs[0].WRID != 7 || rwcs[0].Opcode != verbs.OpcodeRecv {
		t.Fatalf("expected the receiver's recv completion, got n=%d err=%v wcs=%+v", n, err, rwcs)
	}
}
