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

func TestReadWriteRejectZeroFlags(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if err := p.client.Read(nil, 0, nil, 0, 0, 0, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for flags==0, got %v", err)
	}
	if err := p.client.Write(nil, 0, nil, 0, 0, 0, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for flags==0, got %v", err)
	}
}

func TestReadRejectsExactlyOneNil(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()

	buf := make([]byte, 64)
	local, err := p.clientPeer.RegisterMemory(buf, UsageReadDst)
	if err != nil {
		t.Fatalf("RegisterMemory: %v", err)
	}
	defer local.Deregister()

	if err := p.client.Read(local, 0, nil, 0, 0, CompletionAlways, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval when only dst is non-nil, got %v", err)
	}
}

func TestReadZeroByteIsWellDefined(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if err := p.client.Read(nil, 0, nil, 0, 0, CompletionAlways, 1); err != nil {
		t.Fatalf("expected a 0-byte read (both nil, zero offsets/len) to succeed, got %v", err)
	}
}

func TestWritePostsAndCompletes(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()

	srcBuf := make([]byte, 64)
	for i := range srcBuf {
		srcBuf[i] = byte(i)
	}
	src, err := p.clientPeer.RegisterMemory(srcBuf, UsageWriteSrc)
	if err != nil {
		t.Fatalf("RegisterMemory src: %v", err)
	}
	defer src.Deregister()

	dstBuf := make([]byte, 64)
	dst, err := p.serverPeer.RegisterMemory(dstBuf, UsageWriteDst)
	if err != nil {
		t.Fatalf("RegisterMemory dst: %v", err)
	}
	defer dst.Deregister()

	remote, err := RemoteMRFromDescriptor(dst.Descriptor())
	if err != nil {
		t.Fatalf("RemoteMRFromDescriptor: %v", err)
	}

	if err := p.client.Write(remote, 0, src, 0, 64, CompletionAlways, 42); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wcs := make([]verbs.WC, 1)
	n, err := p.client.CQ().GetCompletions(wcs)
	if err != nil {
		t.Fatalf("GetCompletions: %v", err)
	}
	if n != 1 || wcs[0].WRID != 42 {
		t.Fatalf("expected 1 completion with wr_id 42, got n=%d wcs=%+v", n, wcs)
	}
}

func TestAtomicWriteRejectsMisalignedOffset(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	remote := &RemoteMR{Addr: 0, RKey: 0}
	if err := p.client.AtomicWrite(remote, 3, 0xdeadbeef, CompletionAlways, 1); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for a misaligned offset, got %v", err)
	}
}

func TestAtomicWriteAcceptsAlignedOffset(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	remote := &RemoteMR{Addr: 0, RKey: 0}
	if err := p.client.AtomicWrite(remote, 8, 0xdeadbeef, CompletionAlways, 1); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
}

func TestFlushPersistentRequiresDirectWriteToPmem(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	remote := &RemoteMR{Usage: UsageFlushTypePersistent}
	if err := p.client.Flush(remote, 0, 8, FlushPersistent, CompletionAlways, 1); KindOf(err) != KindNoSupp {
		t.Fatalf("expected KindNoSupp without direct_write_to_pmem, got %v", err)
	}
	p.client.SetDirectWriteToPmem(true)
	if err := p.client.Flush(remote, 0, 8, FlushPersistent, CompletionAlways, 1); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestFlushPersistentRequiresRemoteAdvertisement(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	p.client.SetDirectWriteToPmem(true)
	remote := &RemoteMR{Usage: UsageReadSrc}
	if err := p.client.Flush(remote, 0, 8, FlushPersistent, CompletionAlways, 1); KindOf(err) != KindNoSupp {
		t.Fatalf("expected KindNoSupp when the remote MR lacks FLUSH_TYPE_PERSISTENT, got %v", err)
	}
}

func TestFlushVisibilityRequiresRemoteAdvertisement(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	remote := &RemoteMR{Usage: UsageReadSrc}
	if err := p.client.Flush(remote, 0, 8, FlushVisibility, CompletionAlways, 1); KindOf(err) != KindNoSupp {
		t.Fatalf("expected KindNoSupp when the remote MR lacks FLUSH_TYPE_VISIBILITY, got %v", err)
	}
	remote.Usage = UsageFlushTypeVisibility
	if err := p.client.Flush(remote, 0, 8, FlushVisibility, CompletionAlways, 1); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
