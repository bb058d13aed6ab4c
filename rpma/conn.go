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

// ConnectionEvent is the caller-facing event type conn_next_event
// decodes a raw CM event into, per the mapping table in spec.md §4.5.
type ConnectionEvent int

const (
	EventUndefined ConnectionEvent = iota
	EventEstablished
	EventConnectionLost
	EventDisconnected
	EventRejected
	EventError
)

func (e ConnectionEvent) String() string {
	switch e {
	case EventEstablished:
		return "ESTABLISHED"
	case EventConnectionLost:
		return "CONNECTION_LOST"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventRejected:
		return "REJECTED"
	case EventError:
		return "ERROR"
	default:
		return "UNDEFINED"
	}
}

// Connection is an established, bidirectional RDMA connection: a CM id
// migrated onto its own event channel, a main CQ, an optional dedicated
// receive CQ, a QP, and the APM flush engine spec.md §4.7 describes.
type Connection struct {
	peer     *Peer
	cm       verbs.CMId
	ch       verbs.EventChannel
	cq       *CompletionQueue
	rcq      *CompletionQueue
	compChan verbs.CompChannel
	qp       verbs.QP
	srq      *SharedRQ
	private  privateData
	flush    *flushEngine
	directWriteToPmem bool
}

// newConnection migrates req's CM id onto a fresh event channel and
// assembles the Connection record (rpma_conn_new). The request's fields
// are moved onto the Connection wholesale; req itself must not be reused
// by the caller after this returns, success or failure.
func newConnection(req *ConnectionRequest, private privateData) (*Connection, error) {
	trace("conn_new")
	ch, err := req.peer.provider.CreateEventChannel()
	if err != nil {
		req.unwind()
		req.cm.Destroy()
		return nil, errProvider("conn_new", err)
	}
	if err := req.cm.Migrate(ch); err != nil {
		ch.Destroy()
		req.unwind()
		req.cm.Destroy()
		return nil, errProvider("conn_new", err)
	}

	c := &Connection{
		peer:     req.peer,
		cm:       req.cm,
		ch:       ch,
		cq:       req.cq,
		rcq:      req.rcq,
		compChan: req.compChan,
		qp:       req.qp,
		srq:      req.cfg.sharedRQ(),
		private:  private,
	}
	if c.srq != nil {
		c.srq.attach(c)
	}

	fe, err := newFlushEngine(req.peer)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.flush = fe

	return c, nil
}

// PrivateData returns the connection's stored private data. A
// passive-side Connection starts with the bytes that arrived with the
// CONNECT_REQUEST; an active-side Connection starts with the bytes it
// passed to Connect. On either side, an ESTABLISHED event that carries
// private data replaces the stored bytes with a copy of it.
func (c *Connection) PrivateData() []byte { return c.private.Bytes() }

// SetDirectWriteToPmem records whether this side's peer is writing
// directly into persistent memory, a precondition checked by Flush's
// PERSISTENT mode (spec.md §4.7).
func (c *Connection) SetDirectWriteToPmem(v bool) { c.directWriteToPmem = v }

// DirectWriteToPmem reports the flag set by SetDirectWriteToPmem.
func (c *Connection) DirectWriteToPmem() bool { return c.directWriteToPmem }

// NextEvent drains and acknowledges exactly one CM event, translating it
// per spec.md §4.5's table. EventEstablished's private data (if any) is
// copied out before the event is acked, since the provider's PrivateData
// slice is only valid up to that point. KindNoEvent surfaces when the
// channel currently has nothing queued; an event type outside the table
// is acked, logged at WARN and surfaced as KindUnknown.
func (c *Connection) NextEvent() (ConnectionEvent, error) {
	trace("conn_next_event")
	ev, err := c.peer.provider.GetCMEvent(c.ch)
	if err != nil {
		if err == verbs.ErrNoPendingEvent {
			return EventUndefined, &Error{Kind: KindNoEvent, Op: "conn_next_event"}
		}
		logError("conn_next_event", err)
		return EventUndefined, errProvider("conn_next_event", err)
	}

	var out ConnectionEvent
	unknown := false
	switch ev.Type {
	case verbs.EventEstablished:
		if len(ev.PrivateData) > 0 {
			c.private = storePrivateData(ev.PrivateData)
		}
		out = EventEstablished
	case verbs.EventDisconnected, verbs.EventTimewaitExit:
		out = EventDisconnected
	case verbs.EventRejected:
		out = EventRejected
	case verbs.EventDeviceRemoval, verbs.EventConnectError, verbs.EventUnreachable:
		out = EventConnectionLost
	default:
		unknown = true
	}

	if ackErr := c.peer.provider.AckCMEvent(ev); ackErr != nil {
		logWarn("conn_next_event: ack: %v", ackErr)
	}
	if unknown {
		logWarn("conn_next_event: unexpected CM event type %d", ev.Type)
		return EventUndefined, errUnknown("conn_next_event")
	}
	return out, nil
}

// Disconnect initiates rdma_disconnect. The caller must still drain the
// resulting DISCONNECTED event via NextEvent before calling Delete.
func (c *Connection) Disconnect() error {
	trace("conn_disconnect")
	if err := c.cm.Disconnect(); err != nil {
		logError("conn_disconnect", err)
		return errProvider("conn_disconnect", err)
	}
	return nil
}

// Delete tears the connection down in the fixed order spec.md §4.7
// requires: flush engine, QP, dedicated receive CQ, main CQ (and its
// completion channel, if any), CM id, event channel. The first failure
// wins; every step still runs.
func (c *Connection) Delete() error {
	trace("conn_delete")
	if c == nil {
		return nil
	}
	if c.srq != nil {
		c.srq.detach(c)
	}
	return c.teardown()
}

func (c *Connection) teardown() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if c.flush != nil {
		keep(c.flush.delete())
	}
	if c.qp != nil {
		if err := c.qp.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	if c.rcq != nil {
		if err := c.rcq.cq.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	if c.cq != nil {
		if err := c.cq.cq.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	if c.compChan != nil {
		if err := c.compChan.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	if c.cm != nil {
		if err := c.cm.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	if c.ch != nil {
		if err := c.ch.Destroy(); err != nil {
			keep(errProvider("conn_delete", err))
		}
	}
	return first
}

// CQ returns the main completion queue.
func (c *Connection) CQ() *CompletionQueue { return c.cq }

// RCQ returns the dedicated receive completion queue, or nil if recv
// completions land on the main CQ or an attached SharedRQ's own RCQ.
func (c *Connection) RCQ() *CompletionQueue { return c.rcq }

// EventFd returns the CM event channel's fd, for epoll-style waiting
// alongside the completion fds.
func (c *Connection) EventFd() int { return c.ch.Fd() }

// CompletionFd returns the shared completion channel's fd. Returns
// KindNotSharedChannel if this connection was not configured with a
// shared completion channel.
func (c *Connection) CompletionFd() (int, error) {
	if c.compChan == nil {
		return -1, &Error{Kind: KindNotSharedChannel, Op: "conn_get_completion_fd"}
	}
	return c.compChan.Fd(), nil
}
