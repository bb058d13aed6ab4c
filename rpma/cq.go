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

// CompletionQueue owns an event-channel handle and a CQ handle. At most
// one outstanding channel event is armed at a time; Wait rearms the CQ
// immediately after acknowledging each event (spec.md §3).
type CompletionQueue struct {
	cq     verbs.CQ
	shared bool // served by a shared completion channel
}

func newCompletionQueue(cq verbs.CQ, shared bool) *CompletionQueue {
	return &CompletionQueue{cq: cq, shared: shared}
}

// Fd returns the channel fd for epoll-style waiting.
func (q *CompletionQueue) Fd() int {
	if q == nil || q.cq == nil {
		return -1
	}
	return q.cq.Fd()
}

// Wait blocks for one completion event, acknowledges it, and rearms the
// CQ. Returns KindNoCompletion when the channel yields nothing, and
// KindSharedChannel when called on a CQ served by a shared channel (use
// the connection's shared completion fd and GetCompletions instead).
func (q *CompletionQueue) Wait() error {
	trace("cq_wait")
	if q.shared {
		return &Error{Kind: KindSharedChannel, Op: "cq_wait"}
	}
	if err := q.cq.GetEvent(); err != nil {
		if err == verbs.ErrNoPendingEvent {
			return &Error{Kind: KindNoCompletion, Op: "cq_wait"}
		}
		logError("cq_wait", err)
		return errProvider("cq_wait", err)
	}
	q.cq.AckEvents(1)
	if err := q.cq.ReqNotify(false); err != nil {
		logError("cq_wait", err)
		return errProvider("cq_wait", err)
	}
	return nil
}

// GetCompletions polls up to len(out) completions. n<1, or n>1 with a nil
// out, is KindInval. Returns KindNoCompletion when the poll yields zero
// entries. KindUnknown surfaces if the provider ever reports more entries
// than requested — an impossible outcome kept only as a defensive check
// (spec.md §8/§9).
func (q *CompletionQueue) GetCompletions(out []verbs.WC) (int, error) {
	trace("cq_get_wc")
	if len(out) < 1 {
		return 0, errInval("cq_get_wc")
	}
	wcs, err := q.cq.Poll(len(out))
	if err != nil {
		logError("cq_get_wc", err)
		return 0, errProvider("cq_get_wc", err)
	}
	if len(wcs) == 0 {
		return 0, &Error{Kind: KindNoCompletion, Op: "cq_get_wc"}
	}
	if len(wcs) > len(out) {
		return 0, errUnknown("cq_get_wc")
	}
	copy(out, wcs)
	return len(wcs), nil
}
