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

import "fmt"

// Kind is the stable error taxonomy from spec.md §7. librpma's C API
// returns a flat int error code per call; this port keeps the kinds but
// drops the specific numeric codes, which were never part of the public
// contract this library re-implements.
type Kind int

const (
	// KindInval: caller supplied nil, out-of-range, or inconsistent
	// arguments.
	KindInval Kind = iota
	// KindNoMem: allocation failed.
	KindNoMem
	// KindProvider: the underlying transport/CM call failed. The
	// provider's own error is preserved in Error.Cause.
	KindProvider
	// KindNoSupp: operation requested but the device/peer/MR does not
	// support it.
	KindNoSupp
	// KindNoCompletion: the CQ was polled/waited on and had nothing.
	KindNoCompletion
	// KindNoEvent: the CM channel has no pending event.
	KindNoEvent
	// KindAgain: transient; the caller may retry.
	KindAgain
	// KindSharedChannel: cq_wait was attempted on a CQ served by a
	// shared completion channel.
	KindSharedChannel
	// KindNotSharedChannel: the caller asked for the shared completion
	// fd but the connection's channel is per-CQ.
	KindNotSharedChannel
	// KindUnknown: the provider returned no usable code.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindInval:
		return "INVAL"
	case KindNoMem:
		return "NOMEM"
	case KindProvider:
		return "PROVIDER"
	case KindNoSupp:
		return "NOSUPP"
	case KindNoCompletion:
		return "NO_COMPLETION"
	case KindNoEvent:
		return "NO_EVENT"
	case KindAgain:
		return "AGAIN"
	case KindSharedChannel:
		return "SHARED_CHANNEL"
	case KindNotSharedChannel:
		return "NOT_SHARED_CHNL"
	case KindUnknown:
		return "UNKNOWN"
	default:
		return "?"
	}
}

// Error is the error type every rpma call returns. The first error in a
// cleanup sequence is always the one callers see; §7's propagation policy
// requires later cleanup failures to be logged, not returned.
type Error struct {
	Kind  Kind
	Op    string // e.g. "conn_req_new", "peer_setup_qp"
	Cause error  // non-nil for KindProvider
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpma: %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("rpma: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &rpma.Error{Kind: rpma.KindNoSupp}) style
// checks, or more directly use KindOf or inspect err.(*rpma.Error).Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func errInval(op string) error      { return &Error{Kind: KindInval, Op: op} }
func errNoMem(op string) error      { return &Error{Kind: KindNoMem, Op: op} }
func errNoSupp(op string) error     { return &Error{Kind: KindNoSupp, Op: op} }
func errUnknown(op string) error    { return &Error{Kind: KindUnknown, Op: op} }
func errProvider(op string, cause error) error {
	if cause == nil {
		return &Error{Kind: KindUnknown, Op: op}
	}
	return &Error{Kind: KindProvider, Op: op, Cause: cause}
}

// KindOf extracts the Kind carried by err, or KindUnknown if err is not an
// *Error (e.g. it escaped from a lower layer unwrapped).
func KindOf(err error) Kind {
	if err == nil {
		return -1
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}
