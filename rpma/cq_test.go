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

func TestGetCompletionsRejectsInvalidN(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if _, err := p.client.CQ().GetCompletions(nil); KindOf(err) != KindInval {
		t.Fatalf("expected KindInval for a nil/empty out slice, got %v", err)
	}
}

func TestGetCompletionsNoCompletionWhenEmpty(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	wcs := make([]verbs.WC, 1)
	if _, err := p.client.CQ().GetCompletions(wcs); KindOf(err) != KindNoCompletion {
		t.Fatalf("expected KindNoCompletion on an empty CQ, got %v", err)
	}
}

func TestCQFdNegativeWithoutChannel(t *testing.T) {
	p := newConnPair(t, nil)
	defer p.Close()
	if p.client.CQ().Fd() != -1 {
		t.Fatalf("expected -1 without a completion channel, got %d", p.client.CQ().Fd())
	}
}

func TestCQFdValidWithSharedChannel(t *testing.T) {
	cfg := NewConnectionConfig()
	cfg.SetSharedCompletionChannel(true)
	p := newConnPair(t, cfg)
	defer p.Close()
	if p.client.CQ().Fd() < 0 {
		t.Fatalf("expected a non-negative fd with a shared completion channel")
	}
}
