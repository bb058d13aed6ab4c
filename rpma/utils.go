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

// Configuration defaults and protocol constants from spec.md §6.
const (
	defaultTimeoutMs = 1000
	defaultCQSize    = 10
	defaultRCQSize   = 0
	defaultSQSize    = 10
	defaultRQSize    = 10

	defaultSRQRQSize  = 100
	defaultSRQRCQSize = 100

	// AtomicWriteAlignment is RPMA_ATOMIC_WRITE_ALIGNMENT: atomic_write's
	// dst_off must be a multiple of this.
	AtomicWriteAlignment = 8
	// AtomicWriteSize is the fixed payload size of an atomic write.
	AtomicWriteSize = 8

	rpmaMaxInlineData = 8
	rpmaMaxSGE        = 1

	maxResponderResources = 16
	maxInitiatorDepth     = 16

	connRetryCount    = 7
	connRNRRetryCount = 7
)

// opcodeString renders a work-completion opcode for log messages, the Go
// analogue of src/rpma_utils.c's name table.
func opcodeString(op verbs.Opcode) string {
	switch op {
	case verbs.OpcodeRead:
		return "RDMA_READ"
	case verbs.OpcodeWrite:
		return "RDMA_WRITE"
	case verbs.OpcodeWriteWithImm:
		return "RDMA_WRITE_WITH_IMM"
	case verbs.OpcodeSend:
		return "SEND"
	case verbs.OpcodeSendWithImm:
		return "SEND_WITH_IMM"
	case verbs.OpcodeRecv:
		return "RECV"
	case verbs.OpcodeAtomicWrite:
		return "ATOMIC_WRITE"
	default:
		return "UNKNOWN"
	}
}
