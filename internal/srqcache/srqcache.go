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

// Package srqcache is an optional, opt-in remote-MR descriptor cache
// backed by Redis. A SharedRQ consumer that fans one receive queue out
// across many connections, possibly across processes, can use it to look
// up a peer's just-registered MR descriptor by connection id instead of
// re-exchanging it out of band on every reconnect. Nothing in package
// rpma imports this; an application wires it in explicitly.
package srqcache

import (
	"context"
	"fmt"
	"time"

	"github.com/bfix/gospel/logger"
	"github.com/go-redis/redis/v8"
)

// defaultTTL bounds how long a cached descriptor survives an application
// restart on the far end without an explicit Evict.
const defaultTTL = 10 * time.Minute

// keyPrefix namespaces this cache's keys within a shared Redis instance.
const keyPrefix = "rpma:mr:"

// Cache is a Redis-backed store of remote-MR descriptors, keyed by
// connection id. The zero value is not usable; build one with New.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a Cache against a Redis server at addr (host:port). ttl, if
// zero, defaults to 10 minutes.
func New(addr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func key(connID string) string {
	return keyPrefix + connID
}

// Put stores desc, the wire-format bytes from LocalMR.Descriptor, under
// connID, overwriting whatever was stored there before.
func (c *Cache) Put(ctx context.Context, connID string, desc []byte) error {
	if err := c.rdb.Set(ctx, key(connID), desc, c.ttl).Err(); err != nil {
		logger.Printf(logger.ERROR, "[srqcache] put %s: %s", connID, err.Error())
		return err
	}
	return nil
}

// Get retrieves the descriptor bytes stored under connID. A miss returns
// (nil, nil), distinguished from a transport error.
func (c *Cache) Get(ctx context.Context, connID string) ([]byte, error) {
	desc, err := c.rdb.Get(ctx, key(connID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		logger.Printf(logger.ERROR, "[srqcache] get %s: %s", connID, err.Error())
		return nil, err
	}
	return desc, nil
}

// Evict removes a connection's cached descriptor, e.g. once its
// Connection has been deleted.
func (c *Cache) Evict(ctx context.Context, connID string) error {
	return c.rdb.Del(ctx, key(connID)).Err()
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity, for a diag health check to call.
func (c *Cache) Ping(ctx context.Context) error {
	status := c.rdb.Ping(ctx)
	if err := status.Err(); err != nil {
		return fmt.Errorf("srqcache: ping: %w", err)
	}
	return nil
}
