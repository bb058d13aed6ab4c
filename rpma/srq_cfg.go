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

// SRQConfig carries the tunables for a SharedRQ: its receive-queue depth
// and its own receive-CQ depth, both atomic for the same cross-goroutine
// publish reason as ConnectionConfig.
type SRQConfig struct {
	rqSize_ atomic.Int64
	rcqSize atomic.Int64
}

// NewSRQConfig returns an SRQConfig populated with spec.md §6's SRQ
// defaults (100/100).
func NewSRQConfig() *SRQConfig {
	cfg := &SRQConfig{}
	cfg.rqSize_.Store(defaultSRQRQSize)
	cfg.rcqSize.Store(defaultSRQRCQSize)
	return cfg
}

func orDefaultSRQConfig(cfg *SRQConfig) *SRQConfig {
	if cfg == nil {
		return NewSRQConfig()
	}
	return cfg
}

// SetRQSize sets the shared receive-queue depth.
func (c *SRQConfig) SetRQSize(n int) { c.rqSize_.Store(int64(n)) }

func (c *SRQConfig) rqSize() int { return int(c.rqSize_.Load()) }

// SetRCQSize sets the SRQ's own receive-CQ depth. 0 means the SRQ has no
// receive CQ of its own and recv completions land wherever the attaching
// connection's receive CQ is configured.
func (c *SRQConfig) SetRCQSize(n int) { c.rcqSize.Store(int64(n)) }

func (c *SRQConfig) rcqSize() int { return int(c.rcqSize.Load()) }

// hasOwnRCQ reports whether this SRQ, once created, owns a dedicated
// receive CQ rather than deferring to its attaching connections.
func (c *SRQConfig) hasOwnRCQ() bool { return c.rcqSize() > 0 }
