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

// PeerConfig is the remote-peer capability descriptor spec.md §3
// describes: presently a single flag, whether the peer supports
// direct-write-to-persistence. It carries a 1-byte wire encoding so a
// Connection can learn its remote peer's flush capability during
// establishment.
type PeerConfig struct {
	directWriteToPmem bool
}

// NewPeerConfig returns a PeerConfig with every flag at its default
// (false).
func NewPeerConfig() *PeerConfig { return &PeerConfig{} }

// SetDirectWriteToPmem records whether this peer supports direct writes
// to persistent memory (i.e. PERSISTENT flushes may be requested of it).
func (c *PeerConfig) SetDirectWriteToPmem(v bool) { c.directWriteToPmem = v }

// DirectWriteToPmem reports the flag set by SetDirectWriteToPmem.
func (c *PeerConfig) DirectWriteToPmem() bool { return c.directWriteToPmem }

// Descriptor returns the 1-byte wire encoding of c.
func (c *PeerConfig) Descriptor() []byte {
	if c.directWriteToPmem {
		return []byte{1}
	}
	return []byte{0}
}

// PeerConfigFromDescriptor decodes the 1-byte wire encoding produced by
// Descriptor.
func PeerConfigFromDescriptor(desc []byte) (*PeerConfig, error) {
	trace("peer_cfg_from_descriptor")
	if len(desc) != 1 {
		return nil, errInval("peer_cfg_from_descriptor")
	}
	return &PeerConfig{directWriteToPmem: desc[0] != 0}, nil
}
