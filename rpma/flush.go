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

// flushEngine implements the Appliance Persistence Method: an RDMA READ
// of 8 bytes back from the remote region being flushed forces the
// earlier WRITEs to that region to have completed at the remote NIC
// before the READ's completion is observed locally (spec.md §4.7). It
// needs one small local landing buffer, registered for read-destination
// use, that every flush operation reads into and discards.
type flushEngine struct {
	peer *Peer
	raw  []byte
	mr   *LocalMR
}

// apmBufSize is one page: anonymous-mapped for alignment, even though
// the flush read itself only ever touches the first 8 bytes.
const apmBufSize = 4096

func newFlushEngine(peer *Peer) (*flushEngine, error) {
	trace("flush_apm_new")
	buf, err := peer.provider.MapAnonymous(apmBufSize)
	if err != nil {
		return nil, errProvider("flush_apm_new", err)
	}
	mr, err := peer.RegisterMemory(buf, UsageReadDst)
	if err != nil {
		peer.provider.Unmap(buf)
		return nil, err
	}
	return &flushEngine{peer: peer, raw: buf, mr: mr}, nil
}

// do posts the 8-byte RDMA READ against remote[dstOff:] that APM flush
// uses to force visibility of earlier writes to that region. The read is
// always a fixed 8 bytes regardless of the caller's requested flush
// range: APM only needs one word to land after everything preceding it.
func (f *flushEngine) do(qp verbs.QP, wrID uint64, remote *RemoteMR, dstOff uint64, flags verbs.WRFlag) error {
	return qp.PostSend(&verbs.SendWR{
		WRID:   wrID,
		Opcode: verbs.OpcodeRead,
		Flags:  flags,
		Local: verbs.SGE{
			Addr:   f.mr.mr.Addr(),
			Length: AtomicWriteSize,
			LKey:   f.mr.mr.LKey(),
		},
		RemoteAddr: uintptr(remote.Addr) + uintptr(dstOff),
		RemoteKey:  remote.RKey,
	})
}

// delete deregisters and unmaps the landing buffer. First error wins;
// both steps still run.
func (f *flushEngine) delete() error {
	if f == nil {
		return nil
	}
	var first error
	if f.mr != nil {
		if err := f.mr.Deregister(); err != nil {
			first = err
		}
	}
	if f.raw != nil {
		if err := f.peer.provider.Unmap(f.raw); err != nil && first == nil {
			first = errProvider("flush_apm_delete", err)
		}
	}
	return first
}
