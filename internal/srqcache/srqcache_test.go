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

package srqcache

import (
	"context"
	"testing"
	"time"
)

// requireRedis skips the test unless a Redis server answers at addr; this
// package's only backend is Redis itself, so there is no fake to swap in
// the way rpma's Provider has internal/verbs/fake.
func requireRedis(t *testing.T, c *Cache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("no redis reachable: %v", err)
	}
}

func TestPutGetEvictRoundTrip(t *testing.T) {
	c := New("127.0.0.1:6379", time.Minute)
	defer c.Close()
	requireRedis(t, c)

	ctx := context.Background()
	desc := []byte{1, 2, 3, 4, 5}
	if err := c.Put(ctx, "conn-1", desc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(desc) {
		t.Fatalf("got %v, want %v", got, desc)
	}

	if err := c.Evict(ctx, "conn-1"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	got, err = c.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Get after evict: %v", err)
	}
	if got != nil {
		t.Fatalf("expected a miss after eviction, got %v", got)
	}
}

func TestGetMissReturnsNilNil(t *testing.T) {
	c := New("127.0.0.1:6379", time.Minute)
	defer c.Close()
	requireRedis(t, c)

	got, err := c.Get(context.Background(), "never-put")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for a missing key, got %v", got)
	}
}
