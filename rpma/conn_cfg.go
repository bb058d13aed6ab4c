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

import "sync/atomic"

// ConnectionConfig is an atomic, copyable bag of tunables: establishment
// timeout, CQ/RCQ/SQ/RQ sizes, whether the completion channel is shared,
// and an optional SharedRQ. Every field is backed by a sync/atomic value
// so one goroutine may build a config and safely publish it to the
// goroutine that calls NewConnectionRequest/NextConnectionRequest — spec.md §5's
// "construct on one goroutine, read on another" contract, the way the
// teacher's util.Map and concurrent.Signaller types use atomics/channels
// instead of a mutex for the same handoff.
type ConnectionConfig struct {
	timeoutMs  atomic.Int64
	cqSize     atomic.Int64
	rcqSize    atomic.Int64
	sqSize_    atomic.Int64
	rqSize_    atomic.Int64
	sharedChan atomic.Bool
	srq        atomic.Pointer[SharedRQ]
}

// NewConnectionConfig returns a ConnectionConfig populated with spec.md
// §6's defaults. A nil *ConnectionConfig is equivalent to this default
// wherever one is accepted.
func NewConnectionConfig() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	cfg.timeoutMs.Store(defaultTimeoutMs)
	cfg.cqSize.Store(defaultCQSize)
	cfg.rcqSize.Store(defaultRCQSize)
	cfg.sqSize_.Store(defaultSQSize)
	cfg.rqSize_.Store(defaultRQSize)
	return cfg
}

func orDefaultConfig(cfg *ConnectionConfig) *ConnectionConfig {
	if cfg == nil {
		return NewConnectionConfig()
	}
	return cfg
}

// SetTimeoutMs sets the establishment timeout applied to address and
// route resolution.
func (c *ConnectionConfig) SetTimeoutMs(ms int) { c.timeoutMs.Store(int64(ms)) }

// TimeoutMs returns the establishment timeout.
func (c *ConnectionConfig) TimeoutMs() int { return int(c.timeoutMs.Load()) }

// SetCQSize sets the main CQ's size.
func (c *ConnectionConfig) SetCQSize(n int) { c.cqSize.Store(int64(n)) }

func (c *ConnectionConfig) cqSizeVal() int { return int(c.cqSize.Load()) }

// SetRCQSize sets the dedicated receive-CQ size; 0 means no separate
// receive CQ (recv completions land on the main CQ).
func (c *ConnectionConfig) SetRCQSize(n int) { c.rcqSize.Store(int64(n)) }

func (c *ConnectionConfig) rcqSizeVal() int { return int(c.rcqSize.Load()) }

// SetSQSize sets the send-queue depth.
func (c *ConnectionConfig) SetSQSize(n int) { c.sqSize_.Store(int64(n)) }

func (c *ConnectionConfig) sqSize() int { return int(c.sqSize_.Load()) }

// SetRQSize sets the receive-queue depth.
func (c *ConnectionConfig) SetRQSize(n int) { c.rqSize_.Store(int64(n)) }

func (c *ConnectionConfig) rqSize() int { return int(c.rqSize_.Load()) }

// SetSharedCompletionChannel enables a single completion channel shared
// by the main CQ and the receive CQ.
func (c *ConnectionConfig) SetSharedCompletionChannel(v bool) { c.sharedChan.Store(v) }

func (c *ConnectionConfig) sharedCompletionChannel() bool { return c.sharedChan.Load() }

// SetSharedRQ attaches a SharedRQ. Constructing a request with both a
// shared completion channel and an SRQ that owns its own receive CQ is
// rejected with KindInval (spec.md §4.3).
func (c *ConnectionConfig) SetSharedRQ(srq *SharedRQ) { c.srq.Store(srq) }

func (c *ConnectionConfig) sharedRQ() *SharedRQ { return c.srq.Load() }
