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

// SharedRQ is a receive queue shared by more than one Connection, with an
// optional dedicated receive CQ of its own. Its connection set is a plain
// map, deliberately left without a mutex: spec.md §5 scopes attach/detach
// to the single goroutine that owns connection setup, the same way the
// teacher's unsynchronized gnunet/service registries assume a single
// driving goroutine per service instance.
type SharedRQ struct {
	peer  *Peer
	cfg   *SRQConfig
	rcq   *CompletionQueue // nil if cfg has no dedicated receive CQ
	conns map[*Connection]struct{}
}

// NewSharedRQ creates a SharedRQ against peer. When cfg requests a
// dedicated receive CQ (the default), it is created here (not armed); a nil
// cfg falls back to SRQConfig defaults.
func NewSharedRQ(peer *Peer, cfg *SRQConfig) (*SharedRQ, error) {
	trace("srq_new")
	if peer == nil {
		return nil, errInval("srq_new")
	}
	cfg = orDefaultSRQConfig(cfg)
	srq := &SharedRQ{peer: peer, cfg: cfg, conns: make(map[*Connection]struct{})}
	if cfg.hasOwnRCQ() {
		cq, err := peer.provider.CreateCQ(peer.ctx, cfg.rcqSize(), nil)
		if err != nil {
			logError("srq_new", err)
			return nil, errProvider("srq_new", err)
		}
		srq.rcq = newCompletionQueue(cq, false)
	}
	return srq, nil
}

// RQSize returns the configured receive-queue depth.
func (s *SharedRQ) RQSize() int { return s.cfg.rqSize() }

// hasOwnRCQ reports whether attaching connections must not additionally
// request a dedicated receive CQ of their own (spec.md §4.3's conflict
// rule: shared completion channel + SRQ-owned RCQ is KindInval).
func (s *SharedRQ) hasOwnRCQ() bool { return s.rcq != nil }

// RecvCQ returns the SRQ's own receive completion queue, or nil when it
// has none.
func (s *SharedRQ) RecvCQ() *CompletionQueue { return s.rcq }

func (s *SharedRQ) attach(c *Connection) { s.conns[c] = struct{}{} }

func (s *SharedRQ) detach(c *Connection) { delete(s.conns, c) }

// Delete destroys the dedicated receive CQ, if any. Deleting a SharedRQ
// while connections are still attached to it is undefined by contract,
// the same as Peer.Delete.
func (s *SharedRQ) Delete() error {
	trace("srq_delete")
	if s == nil || s.rcq == nil || s.rcq.cq == nil {
		return nil
	}
	if err := destroyCQ(s.rcq.cq); err != nil {
		logError("srq_delete", err)
		return errProvider("srq_delete", err)
	}
	return nil
}

func destroyCQ(cq verbs.CQ) error { return cq.Destroy() }
