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

import "testing"

func TestStorePrivateDataCopiesAndIsolates(t *testing.T) {
	src := []byte{1, 2, 3}
	d := storePrivateData(src)
	src[0] = 99
	if d.Bytes()[0] != 1 {
		t.Fatalf("expected storePrivateData to copy, got mutation leaked through")
	}
}

func TestStorePrivateDataEmptyIsNil(t *testing.T) {
	d := storePrivateData(nil)
	if d.Bytes() != nil {
		t.Fatalf("expected nil Bytes for an empty source")
	}
	d = storePrivateData([]byte{})
	if d.Bytes() != nil {
		t.Fatalf("expected nil Bytes for a zero-length source")
	}
}

func TestTransferPrivateDataTakesOwnership(t *testing.T) {
	src := []byte{1, 2, 3}
	d := transferPrivateData(src)
	if &d.Bytes()[0] != &src[0] {
		t.Fatalf("expected transferPrivateData not to copy")
	}
}
