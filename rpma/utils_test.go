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

func TestOpcodeString(t *testing.T) {
	cases := map[verbs.Opcode]string{
		verbs.OpcodeRead:          "RDMA_READ",
		verbs.OpcodeWrite:         "RDMA_WRITE",
		verbs.OpcodeWriteWithImm:  "RDMA_WRITE_WITH_IMM",
		verbs.OpcodeSend:          "SEND",
		verbs.OpcodeSendWithImm:   "SEND_WITH_IMM",
		verbs.OpcodeRecv:          "RECV",
		verbs.OpcodeAtomicWrite:   "ATOMIC_WRITE",
		verbs.Opcode(999):         "UNKNOWN",
	}
	for op, want := range cases {
		if got := opcodeString(op); got != want {
			t.Fatalf("opcodeString(%v) = %q, want %q", op, got, want)
		}
	}
}
