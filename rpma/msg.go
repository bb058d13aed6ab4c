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

// Send posts a SEND of src[offset:offset+length). A nil src requires
// offset == 0 && length == 0, the 0-byte send (spec.md §4.6).
func (c *Connection) Send(src *LocalMR, offset, length uint64, flags Flags, opContext uint64) error {
	return c.send(src, offset, length, flags, opContext, false, 0)
}

// SendWithImm is Send carrying a 32-bit immediate value.
func (c *Connection) SendWithImm(src *LocalMR, offset, length uint64, flags Flags, opContext uint64, imm uint32) error {
	return c.send(src, offset, length, flags, opContext, true, imm)
}

func (c *Connection) send(src *LocalMR, offset, length uint64, flags Flags, opContext uint64, withImm bool, imm uint32) error {
	trace("send")
	if flags == 0 {
		return errInval("send")
	}
	if src == nil && (offset != 0 || length != 0) {
		return errInval("send")
	}
	op := verbs.OpcodeSend
	if withImm {
		op = verbs.OpcodeSendWithImm
	}
	wr := &verbs.SendWR{WRID: opContext, Opcode: op, Flags: flags.wrFlags(), ImmData: imm}
	if src != nil {
		wr.Local = verbs.SGE{Addr: src.mr.Addr() + uintptr(offset), Length: uint32(length), LKey: src.mr.LKey()}
	}
	return c.post(wr)
}

// Recv posts a receive buffer against this connection's QP.
func (c *Connection) Recv(dst *LocalMR, offset, length uint64, opContext uint64) error {
	trace("recv")
	if dst == nil {
		return errInval("recv")
	}
	wr := &verbs.RecvWR{
		WRID:  opContext,
		Local: verbs.SGE{Addr: dst.mr.Addr() + uintptr(offset), Length: uint32(length), LKey: dst.mr.LKey()},
	}
	if err := c.qp.PostRecv(wr); err != nil {
		logError("recv", err)
		return errProvider("recv", err)
	}
	return nil
}

// SRQRecv posts a receive buffer for the SharedRQ receive path. This
// library's Provider models a shared receive queue purely as a shared
// recv completion queue plus per-connection QPs (spec.md §3 describes no
// additional SRQ-level post primitive distinct from a QP's own post_recv),
// so there is no QP-independent post: this simply forwards to conn's own
// QP, exactly like Recv.
func (c *Connection) SRQRecv(dst *LocalMR, offset, length uint64, opContext uint64) error {
	return c.Recv(dst, offset, length, opContext)
}
