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

package diag

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestStatsReportsRegisteredCounters(t *testing.T) {
	s := New()
	s.Register("peers", func() int64 { return 3 })
	s.Register("connections", func() int64 { return 7 })

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["peers"] != 3 || got["connections"] != 7 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestUnregisterRemovesCounter(t *testing.T) {
	s := New()
	s.Register("peers", func() int64 { return 1 })
	s.Unregister("peers")

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var got map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["peers"]; ok {
		t.Fatalf("expected peers counter to be gone, got %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	s := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != 200 || w.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", w.Code, w.Body.String())
	}
}
