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

// Package verbs is the opaque transport boundary spec.md §6 describes: the
// underlying RDMA verbs / connection-manager provider. rpma never imports
// a concrete transport; it is handed a Provider, so that unit tests can
// substitute internal/verbs/fake for a real NIC.
package verbs

import (
	"errors"
	"net"
)

// ErrNoPendingEvent is returned by Provider.GetCMEvent and CQ.GetEvent when
// the channel currently has nothing queued (the provider's ENODATA).
var ErrNoPendingEvent = errors.New("verbs: no pending event")

// AccessFlag mirrors ibv_access_flags bits relevant to this library.
type AccessFlag uint32

const (
	AccessLocalWrite AccessFlag = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
	AccessRemoteAtomic
	AccessOnDemand // IBV_ACCESS_ON_DEMAND, used for the ODP registration retry
)

// WRFlag mirrors ibv_send_flags bits this library posts.
type WRFlag uint32

const (
	WRSignaled WRFlag = 1 << iota
	WRInline
	WRFence
	WRSolicited
)

// Opcode identifies the work-request/completion opcode.
type Opcode int

const (
	OpcodeRead Opcode = iota
	OpcodeWrite
	OpcodeWriteWithImm
	OpcodeSend
	OpcodeSendWithImm
	OpcodeRecv
	OpcodeAtomicWrite
)

// WC is one work completion, as returned by CQ.Poll.
type WC struct {
	WRID   uint64
	Status error // nil on IBV_WC_SUCCESS
	Opcode Opcode
	Imm    uint32
	ByteLen uint32
}

// SGE is a single scatter/gather element.
type SGE struct {
	Addr   uintptr
	Length uint32
	LKey   uint32
}

// SendWR describes one post_send request. Exactly one of the fields that
// the opcode requires is meaningful; the rest are ignored.
type SendWR struct {
	WRID       uint64
	Opcode     Opcode
	Flags      WRFlag
	Local      SGE   // source for read/write/send, destination for recv (unused here)
	RemoteAddr uintptr // target address for read/write/atomic
	RemoteKey  uint32
	ImmData    uint32
	AtomicAdd  uint64 // value written by an atomic-write
}

// RecvWR describes one post_recv request.
type RecvWR struct {
	WRID  uint64
	Local SGE
}

// DeviceCaps is probed once per Peer.
type DeviceCaps struct {
	ODPSupported         bool
	NativeAtomicWrite    bool
	IsIWARP              bool
}

// CMEventType mirrors the subset of rdma_cm_event_type this library cares
// about.
type CMEventType int

const (
	EventConnectRequest CMEventType = iota
	EventEstablished
	EventConnectError
	EventDeviceRemoval
	EventDisconnected
	EventTimewaitExit
	EventRejected
	EventUnreachable
	EventOther
)

// CMEvent is a drained, not-yet-acked CM event.
type CMEvent struct {
	Type        CMEventType
	PrivateData []byte
	NewID       CMId // set only for EventConnectRequest, the offered id
}

// ConnParam mirrors rdma_conn_param, the subset this library sets.
type ConnParam struct {
	ResponderResources uint8
	InitiatorDepth     uint8
	FlowControl        uint8
	RetryCount         uint8
	RNRRetryCount      uint8
	PrivateData        []byte
}

// QPInitAttr mirrors ibv_qp_init_attr, the subset this library sets.
type QPInitAttr struct {
	SendCQ         CQ
	RecvCQ         CQ
	MaxSendWR      uint32
	MaxRecvWR      uint32
	MaxSendSGE     uint32
	MaxRecvSGE     uint32
	MaxInlineData  uint32
	SignalAll      bool
	NativeAtomicWR bool
}

// Context is an opaque device context (ibv_context).
type Context interface {
	// QueryDevice probes device capabilities once at Peer construction.
	QueryDevice() (DeviceCaps, error)
}

// ProtectionDomain is an ibv_pd.
type ProtectionDomain interface {
	Dealloc() error
}

// MR is a registered memory region (ibv_mr).
type MR interface {
	Addr() uintptr
	Length() int
	RKey() uint32
	LKey() uint32
	Dereg() error
}

// CompChannel is an ibv_comp_channel.
type CompChannel interface {
	Fd() int
	Destroy() error
}

// CQ is an ibv_cq, optionally backed by a CompChannel.
type CQ interface {
	Fd() int // -1 if no channel is attached
	ReqNotify(solicitedOnly bool) error
	GetEvent() error // blocks until one channel event is available
	AckEvents(n uint32)
	Poll(max int) ([]WC, error)
	Destroy() error
}

// QP is an ibv_qp.
type QP interface {
	PostSend(wr *SendWR) error
	PostRecv(wr *RecvWR) error
	Destroy() error
}

// EventChannel is an rdma_event_channel.
type EventChannel interface {
	Fd() int
	Destroy() error
}

// CMId is an rdma_cm_id.
type CMId interface {
	Context() Context
	BindAddr(local net.Addr) error
	ResolveAddr(local, remote net.Addr, timeoutMs int) error
	ResolveRoute(timeoutMs int) error
	Listen(backlog int) error
	CreateQP(pd ProtectionDomain, attr QPInitAttr) (QP, error)
	Connect(param *ConnParam) error
	Accept(param *ConnParam) error
	Reject() error
	Disconnect() error
	Migrate(ch EventChannel) error
	Destroy() error
	GIDStrings() (src, dst string, ok bool)
}

// AddrInfoSide tags whether an Info record backs a listener or an active
// resolve.
type AddrInfoSide int

const (
	SideActive AddrInfoSide = iota
	SidePassive
)

// AddrInfo is the cached, side-tagged address/route translation record
// spec.md §3 describes as Info.
type AddrInfo interface {
	Side() AddrInfoSide
}

// Provider is the full opaque transport boundary: everything rpma needs
// from the underlying CM + verbs stack.
type Provider interface {
	GetAddrInfo(addr, port string, side AddrInfoSide) (AddrInfo, error)

	CreateEventChannel() (EventChannel, error)
	CreateID(ch EventChannel) (CMId, error)
	GetCMEvent(ch EventChannel) (*CMEvent, error)
	AckCMEvent(ev *CMEvent) error

	AllocPD(ctx Context) (ProtectionDomain, error)
	RegMR(pd ProtectionDomain, buf []byte, access AccessFlag) (MR, error)

	CreateCompChannel(ctx Context) (CompChannel, error)
	CreateCQ(ctx Context, cqe int, ch CompChannel) (CQ, error)

	MapAnonymous(size int) ([]byte, error)
	Unmap(buf []byte) error
}
