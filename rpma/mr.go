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
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/pmem/go-rpma/internal/verbs"
)

// Usage is the usage bitmask spec.md §3 describes for a memory region. At
// least one bit must be set for a registration to succeed.
type Usage uint8

const (
	UsageReadSrc Usage = 1 << iota
	UsageReadDst
	UsageWriteSrc
	UsageWriteDst
	UsageFlushTypeVisibility
	UsageFlushTypePersistent
	UsageSend
	UsageRecv
)

// descriptorLen is the fixed 21-byte layout spec.md §6 defines:
// addr(8) | length(8) | rkey(4) | usage(1), little-endian.
const descriptorLen = 2*8 + 4 + 1

// LocalMR is a registered span of virtual memory, owned exclusively by the
// Peer it was registered against. Deregister is its sole destructor.
type LocalMR struct {
	peer  *Peer
	mr    verbs.MR
	buf   []byte
	usage Usage
}

// usageToAccess converts a usage bitmask into an ibv access bitmask per
// the table in spec.md §4.2.
func usageToAccess(usage Usage, iwarp bool) verbs.AccessFlag {
	var access verbs.AccessFlag
	if usage&(UsageReadSrc|UsageFlushTypeVisibility|UsageFlushTypePersistent) != 0 {
		access |= verbs.AccessRemoteRead
	}
	if usage&UsageReadDst != 0 {
		access |= verbs.AccessLocalWrite
		if iwarp {
			access |= verbs.AccessRemoteWrite
		}
	}
	if usage&UsageWriteSrc != 0 {
		access |= verbs.AccessLocalWrite
	}
	if usage&UsageWriteDst != 0 {
		access |= verbs.AccessLocalWrite | verbs.AccessRemoteWrite
	}
	if usage&UsageRecv != 0 {
		access |= verbs.AccessLocalWrite
	}
	return access
}

// RegisterMemory registers buf against peer with the given usage. At
// least one usage bit must be set. If the provider rejects the
// registration as unsupported and the device supports on-demand paging,
// the registration is retried once with the ODP access flag ORed in, per
// spec.md §4.2.
func (p *Peer) RegisterMemory(buf []byte, usage Usage) (*LocalMR, error) {
	trace("mr_reg")
	if len(buf) == 0 || usage == 0 {
		return nil, errInval("mr_reg")
	}
	access := usageToAccess(usage, p.iwarp)
	mr, err := p.provider.RegMR(p.pd, buf, access)
	if err != nil {
		if p.caps.ODPSupported && isNotSupported(err) {
			mr, err = p.provider.RegMR(p.pd, buf, access|verbs.AccessOnDemand)
		}
		if err != nil {
			logError("mr_reg", err)
			return nil, errProvider("mr_reg", err)
		}
	}
	lmr := &LocalMR{peer: p, mr: mr, buf: buf, usage: usage}
	logNotice("mr_reg: fingerprint=%s usage=%#x", mrFingerprint(lmr.Descriptor()), usage)
	return lmr, nil
}

// mrFingerprint is a blake2b-128 checksum over a descriptor, logged at
// NOTICE purely for operator-facing diagnostics when correlating a
// registration with the descriptor later exchanged over the wire. It is
// never part of wire semantics; mr_remote_from_descriptor never sees it.
func mrFingerprint(desc []byte) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// only possible for an invalid key/size combination, neither of
		// which applies to this fixed, unkeyed 128-bit call.
		return ""
	}
	h.Write(desc)
	return hex.EncodeToString(h.Sum(nil))
}

// isNotSupported is a best-effort classifier for the provider's "operation
// not supported" outcome; the opaque transport boundary does not (and per
// spec.md §1 need not) standardize error values beyond what Kind already
// captures, so this looks at the error text the way upstream's errno
// comparison (EOPNOTSUPP) would.
func isNotSupported(err error) bool {
	return err != nil && containsFold(err.Error(), "not supported")
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if foldEqual(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Deregister releases the registration. It is the sole destructor of a
// LocalMR.
func (m *LocalMR) Deregister() error {
	trace("mr_dereg")
	if m == nil || m.mr == nil {
		return nil
	}
	if err := m.mr.Dereg(); err != nil {
		logError("mr_dereg", err)
		return errProvider("mr_dereg", err)
	}
	return nil
}

// Usage returns the usage bitmask the region was registered with.
func (m *LocalMR) Usage() Usage { return m.usage }

// Descriptor produces the 21-byte wire encoding spec.md §6 defines.
//
// Deliberately hand-rolled with encoding/binary rather than gospel/data's
// reflective struct marshaller: the wire layout is a fixed, exactly
// specified little-endian byte order and this is the one place a
// marshalling mismatch would silently corrupt a remote key exchanged over
// the wire, so the encode/decode pair is kept trivially inspectable.
func (m *LocalMR) Descriptor() []byte {
	buf := make([]byte, descriptorLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.mr.Addr()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.mr.Length()))
	binary.LittleEndian.PutUint32(buf[16:20], m.mr.RKey())
	buf[20] = byte(m.usage)
	return buf
}

// RemoteMR is a peer-side view of a registered span, reconstituted from a
// descriptor.
type RemoteMR struct {
	Addr  uint64
	Size  uint64
	RKey  uint32
	Usage Usage
}

// RemoteMRFromDescriptor decodes a descriptor produced by
// LocalMR.Descriptor. A descriptor shorter than 21 bytes, or with a zero
// usage byte, is rejected with KindInval.
func RemoteMRFromDescriptor(desc []byte) (*RemoteMR, error) {
	trace("mr_remote_from_descriptor")
	if len(desc) < descriptorLen {
		return nil, errInval("mr_remote_from_descriptor")
	}
	usage := Usage(desc[20])
	if usage == 0 {
		return nil, errInval("mr_remote_from_descriptor")
	}
	return &RemoteMR{
		Addr:  binary.LittleEndian.Uint64(desc[0:8]),
		Size:  binary.LittleEndian.Uint64(desc[8:16]),
		RKey:  binary.LittleEndian.Uint32(desc[16:20]),
		Usage: usage,
	}, nil
}

// SupportsFlush reports whether the remote region advertises the given
// flush usage bit.
func (r *RemoteMR) SupportsFlush(want Usage) bool {
	return r.Usage&want != 0
}
