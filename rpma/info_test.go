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
	"github.com/pmem/go-rpma/internal/verbs/fake"
)

func TestInfoSideMismatchIsRejected(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	info, err := NewInfo(provider, "127.0.0.1", "7000", Active)
	if err != nil {
		t.Fatalf("NewInfo: %v", err)
	}
	ch, _ := provider.CreateEventChannel()
	id, _ := provider.CreateID(ch)

	if err := info.BindAddr(id, Passive); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval binding an Active-side Info as Passive")
	}
}

func TestGetIbvContextPassiveBindsOnly(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	ctx, err := GetIbvContext(provider, "127.0.0.1", "7001", Passive, 100)
	if err != nil {
		t.Fatalf("GetIbvContext: %v", err)
	}
	if ctx == nil {
		t.Fatalf("expected a non-nil context")
	}
}

func TestGetIbvContextActiveRequiresListener(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	if _, err := GetIbvContext(provider, "127.0.0.1", "7002", Active, 100); err == nil {
		t.Fatalf("expected resolving against a nonexistent listener to fail")
	}
}

func TestNewInfoRejectsEmptyArgs(t *testing.T) {
	provider := fake.NewProvider(nil, verbs.DeviceCaps{})
	if _, err := NewInfo(provider, "", "7000", Active); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for an empty address")
	}
}
