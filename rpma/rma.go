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

// Flags is the completion-request bitmask every data-plane operation
// takes. A zero value is rejected with KindInval (spec.md §4.6/§8
// invariant 4).
type Flags uint32

const (
	// CompletionOnError requests a completion only when the operation
	// fails; a successful post consumes no CQ slot.
	CompletionOnError Flags = 1 << iota
	// CompletionAlways requests a completion unconditionally.
	CompletionAlways = CompletionOnError | 0x2
)

func (f Flags) wrFlags() verbs.WRFlag {
	if f&0x2 != 0 {
		return verbs.WRSignaled
	}
	return 0
}

// FlushType selects between APM's two guarantee levels.
type FlushType int

const (
	FlushPersistent FlushType = iota
	FlushVisibility
)

// Read posts a single RDMA-READ from src (a remote region) into dst (a
// local region). Exactly one of src/dst being nil is rejected; both nil
// together with a zero length and zero offsets is the well-defined
// 0-byte read (spec.md §4.6, §8 invariant 5).
func (c *Connection) Read(dst *LocalMR, dstOff uint64, src *RemoteMR, srcOff uint64, length uint64, flags Flags, opContext uint64) error {
	trace("read")
	if flags == 0 {
		return errInval("read")
	}
	if (src == nil) != (dst == nil) {
		return errInval("read")
	}
	if src == nil && dst == nil && (srcOff != 0 || dstOff != 0 || length != 0) {
		return errInval("read")
	}

	wr := &verbs.SendWR{
		WRID:   opContext,
		Opcode: verbs.OpcodeRead,
		Flags:  flags.wrFlags(),
	}
	if dst != nil {
		wr.Local = verbs.SGE{Addr: dst.mr.Addr() + uintptr(dstOff), Length: uint32(length), LKey: dst.mr.LKey()}
		wr.RemoteAddr = uintptr(src.Addr) + uintptr(srcOff)
		wr.RemoteKey = src.RKey
	}
	return c.post(wr)
}

// Write posts a single RDMA-WRITE (optionally carrying 32 bits of
// immediate data) from src (local) into dst (remote). Same nil/offset
// rules as Read, mirrored.
func (c *Connection) Write(dst *RemoteMR, dstOff uint64, src *LocalMR, srcOff uint64, length uint64, flags Flags, opContext uint64) error {
	return c.write(dst, dstOff, src, srcOff, length, flags, opContext, false, 0)
}

// WriteWithImm is Write carrying a caller-supplied 32-bit immediate
// value delivered to the remote side's next recv completion.
func (c *Connection) WriteWithImm(dst *RemoteMR, dstOff uint64, src *LocalMR, srcOff uint64, length uint64, flags Flags, opContext uint64, imm uint32) error {
	return c.write(dst, dstOff, src, srcOff, length, flags, opContext, true, imm)
}

func (c *Connection) write(dst *RemoteMR, dstOff uint64, src *LocalMR, srcOff uint64, length uint64, flags Flags, opContext uint64, withImm bool, imm uint32) error {
	trace("write")
	if flags == 0 {
		return errInval("write")
	}
	if (src == nil) != (dst == nil) {
		return errInval("write")
	}
	if src == nil && dst == nil && (srcOff != 0 || dstOff != 0 || length != 0) {
		return errInval("write")
	}

	op := verbs.OpcodeWrite
	if withImm {
		op = verbs.OpcodeWriteWithImm
	}
	wr := &verbs.SendWR{WRID: opContext, Opcode: op, Flags: flags.wrFlags(), ImmData: imm}
	if src != nil {
		wr.Local = verbs.SGE{Addr: src.mr.Addr() + uintptr(srcOff), Length: uint32(length), LKey: src.mr.LKey()}
		wr.RemoteAddr = uintptr(dst.Addr) + uintptr(dstOff)
		wr.RemoteKey = dst.RKey
	}
	return c.post(wr)
}

// AtomicWrite posts an 8-byte atomic write of value into dst at dstOff,
// which must be 8-byte-aligned (spec.md §8 invariant 6). Always carries
// IBV_SEND_INLINE | IBV_SEND_FENCE so that any in-flight flush read
// completes before the write lands (spec.md §4.6).
func (c *Connection) AtomicWrite(dst *RemoteMR, dstOff uint64, value uint64, flags Flags, opContext uint64) error {
	trace("atomic_write")
	if flags == 0 {
		return errInval("atomic_write")
	}
	if dstOff%AtomicWriteAlignment != 0 {
		return errInval("atomic_write")
	}
	wr := &verbs.SendWR{
		WRID:       opContext,
		Opcode:     verbs.OpcodeAtomicWrite,
		Flags:      flags.wrFlags() | verbs.WRInline | verbs.WRFence,
		RemoteAddr: uintptr(dst.Addr) + uintptr(dstOff),
		RemoteKey:  dst.RKey,
		AtomicAdd:  value,
	}
	return c.post(wr)
}

// Flush posts the APM read-after-write against dst[dstOff:dstOff+length)
// that guarantees the chosen durability level. PERSISTENT requires this
// connection to be marked DirectWriteToPmem and the remote MR to
// advertise FLUSH_TYPE_PERSISTENT; VISIBILITY requires the remote MR to
// advertise FLUSH_TYPE_VISIBILITY. Either precondition failing is
// KindNoSupp, and for PERSISTENT the direct-write-to-pmem check is
// evaluated first (spec.md §8 invariant 7).
func (c *Connection) Flush(dst *RemoteMR, dstOff, length uint64, typ FlushType, flags Flags, opContext uint64) error {
	trace("flush")
	if flags == 0 {
		return errInval("flush")
	}
	switch typ {
	case FlushPersistent:
		if !c.directWriteToPmem {
			return errNoSupp("flush")
		}
		if !dst.SupportsFlush(UsageFlushTypePersistent) {
			return errNoSupp("flush")
		}
	case FlushVisibility:
		if !dst.SupportsFlush(UsageFlushTypeVisibility) {
			return errNoSupp("flush")
		}
	default:
		return errInval("flush")
	}
	_ = length
	if err := c.flush.do(c.qp, opContext, dst, dstOff, flags.wrFlags()); err != nil {
		logError("flush", err)
		return errProvider("flush", err)
	}
	return nil
}

func (c *Connection) post(wr *verbs.SendWR) error {
	if err := c.qp.PostSend(wr); err != nil {
		logError(opcodeString(wr.Opcode), err)
		return errProvider(opcodeString(wr.Opcode), err)
	}
	return nil
}
