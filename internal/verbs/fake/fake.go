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

// Package fake is an in-process, no-hardware implementation of the
// internal/verbs.Provider contract, used by the rpma package's tests the
// way the teacher's transport package fakes a channel server in-process
// (see transport/channel_test.go's TestChannelServer) instead of touching
// real sockets.
package fake

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pmem/go-rpma/internal/verbs"
)

// Provider is a fake verbs.Provider. Every Provider shares a Network so
// that two Providers (or two CM ids from the same Provider) can complete a
// connection handshake against each other.
type Provider struct {
	net  *Network
	caps verbs.DeviceCaps
}

// NewProvider returns a fake Provider attached to net. Pass a shared
// Network to two Providers to let them connect to each other; pass nil
// to get a private Network (adequate for single-sided unit tests).
func NewProvider(n *Network, caps verbs.DeviceCaps) *Provider {
	if n == nil {
		n = NewNetwork()
	}
	return &Provider{net: n, caps: caps}
}

// Network is the shared rendezvous point: addr -> listening CM id.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*CMId
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*CMId)}
}

var idCounter uint64

func nextID() uint64 { return atomic.AddUint64(&idCounter, 1) }

//----------------------------------------------------------------------
// Context / capability probing

type Context struct{ caps verbs.DeviceCaps }

func (c *Context) QueryDevice() (verbs.DeviceCaps, error) { return c.caps, nil }

func (p *Provider) GetAddrInfo(addr, port string, side verbs.AddrInfoSide) (verbs.AddrInfo, error) {
	if addr == "" || port == "" {
		return nil, errors.New("fake: empty address or port")
	}
	return &AddrInfo{side: side, addr: net.JoinHostPort(addr, port)}, nil
}

type AddrInfo struct {
	side verbs.AddrInfoSide
	addr string
}

func (a *AddrInfo) Side() verbs.AddrInfoSide { return a.side }

//----------------------------------------------------------------------
// Event channel

type EventChannel struct {
	mu       sync.Mutex
	events   []*verbs.CMEvent
	notifyR  *os.File
	notifyW  *os.File
	destroyed bool
}

func newEventChannel() *EventChannel {
	r, w, err := os.Pipe()
	if err != nil {
		// os.Pipe failing in a test sandbox is unexpected; surface loudly
		// rather than silently degrading fd-based readiness.
		panic(fmt.Sprintf("fake: os.Pipe: %v", err))
	}
	return &EventChannel{notifyR: r, notifyW: w}
}

func (c *EventChannel) Fd() int { return int(c.notifyR.Fd()) }

func (c *EventChannel) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true
	c.notifyR.Close()
	c.notifyW.Close()
	return nil
}

func (c *EventChannel) push(ev *verbs.CMEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.events = append(c.events, ev)
	c.notifyW.Write([]byte{0})
}

func (c *EventChannel) pop() (*verbs.CMEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil, verbs.ErrNoPendingEvent
	}
	ev := c.events[0]
	c.events = c.events[1:]
	buf := make([]byte, 1)
	c.notifyR.Read(buf)
	return ev, nil
}

func (p *Provider) CreateEventChannel() (verbs.EventChannel, error) {
	return newEventChannel(), nil
}

func (p *Provider) GetCMEvent(ch verbs.EventChannel) (*verbs.CMEvent, error) {
	ec, ok := ch.(*EventChannel)
	if !ok {
		return nil, errors.New("fake: wrong event channel type")
	}
	return ec.pop()
}

func (p *Provider) AckCMEvent(ev *verbs.CMEvent) error { return nil }

//----------------------------------------------------------------------
// CM id

type CMId struct {
	provider  *Provider
	id        uint64
	channel   *EventChannel
	localAddr string
	remoteAddr string
	ctx       *Context
	peer           *CMId // the other side of an established/connecting pair
	isPassiveOffer bool
	acceptParam    *verbs.ConnParam // set by Accept, consumed by Migrate
	destroyed      bool
}

func (p *Provider) CreateID(ch verbs.EventChannel) (verbs.CMId, error) {
	// A nil channel is the null event channel an active-side id is
	// created on (rdma_create_id(NULL, ...)).
	var ec *EventChannel
	if ch != nil {
		var ok bool
		if ec, ok = ch.(*EventChannel); !ok {
			return nil, errors.New("fake: wrong event channel type")
		}
	}
	return &CMId{provider: p, id: nextID(), channel: ec, ctx: &Context{caps: p.caps}}, nil
}

func (c *CMId) Context() verbs.Context {
	if c.ctx == nil {
		return nil
	}
	return c.ctx
}

func (c *CMId) BindAddr(local net.Addr) error {
	c.localAddr = local.String()
	return nil
}

func (c *CMId) Listen(backlog int) error {
	if c.localAddr == "" {
		return errors.New("fake: Listen before BindAddr")
	}
	c.provider.net.mu.Lock()
	defer c.provider.net.mu.Unlock()
	if _, exists := c.provider.net.listeners[c.localAddr]; exists {
		return errors.New("fake: address already listening")
	}
	c.provider.net.listeners[c.localAddr] = c
	return nil
}

func (c *CMId) ResolveAddr(local, remote net.Addr, timeoutMs int) error {
	c.remoteAddr = remote.String()
	if local != nil {
		c.localAddr = local.String()
	}
	c.provider.net.mu.Lock()
	_, ok := c.provider.net.listeners[c.remoteAddr]
	c.provider.net.mu.Unlock()
	if !ok {
		return errors.New("fake: no listener at " + c.remoteAddr)
	}
	return nil
}

func (c *CMId) ResolveRoute(timeoutMs int) error { return nil }

func (c *CMId) CreateQP(pd verbs.ProtectionDomain, attr verbs.QPInitAttr) (verbs.QP, error) {
	return &QP{sendCQ: attr.SendCQ, recvCQ: attr.RecvCQ, inlineMax: attr.MaxInlineData}, nil
}

// Connect delivers a CONNECT_REQUEST to the listener registered at the
// previously-resolved remote address, and remembers the offered peer id so
// a later Accept can deliver ESTABLISHED back to us.
func (c *CMId) Connect(param *verbs.ConnParam) error {
	c.provider.net.mu.Lock()
	listener, ok := c.provider.net.listeners[c.remoteAddr]
	c.provider.net.mu.Unlock()
	if !ok {
		return errors.New("fake: no listener at " + c.remoteAddr)
	}
	offer := &CMId{
		provider:       listener.provider,
		id:             nextID(),
		channel:        nil, // filled in by Migrate, mirroring rpma_conn_new()
		ctx:            listener.ctx,
		isPassiveOffer: true,
		peer:           c,
	}
	c.peer = offer
	listener.channel.push(&verbs.CMEvent{
		Type:        verbs.EventConnectRequest,
		PrivateData: append([]byte(nil), param.PrivateData...),
		NewID:       offer,
	})
	return nil
}

// Accept is called on the offered (passive) id. The peer's event channel
// already exists (the active side built its Connection, and thus its
// channel, before calling Connect), so its ESTABLISHED event is delivered
// right away; this side's own channel does not exist yet (conn_new()
// creates it and migrates the id into it only *after* accept() returns),
// so the matching ESTABLISHED event is deferred until Migrate.
func (c *CMId) Accept(param *verbs.ConnParam) error {
	if c.peer == nil {
		return errors.New("fake: Accept on an id with no pending offer")
	}
	c.acceptParam = param
	if c.peer.channel != nil {
		c.peer.channel.push(&verbs.CMEvent{
			Type:        verbs.EventEstablished,
			PrivateData: append([]byte(nil), param.PrivateData...),
		})
	}
	return nil
}

func (c *CMId) Reject() error {
	if c.peer != nil && c.peer.channel != nil {
		c.peer.channel.push(&verbs.CMEvent{Type: verbs.EventRejected})
	}
	return nil
}

func (c *CMId) Disconnect() error {
	if c.peer != nil && c.peer.channel != nil {
		c.peer.channel.push(&verbs.CMEvent{Type: verbs.EventDisconnected})
	}
	if c.channel != nil {
		c.channel.push(&verbs.CMEvent{Type: verbs.EventDisconnected})
	}
	return nil
}

func (c *CMId) Migrate(ch verbs.EventChannel) error {
	ec, ok := ch.(*EventChannel)
	if !ok {
		return errors.New("fake: wrong event channel type")
	}
	c.channel = ec
	if c.acceptParam != nil {
		ec.push(&verbs.CMEvent{Type: verbs.EventEstablished})
		c.acceptParam = nil
	}
	return nil
}

func (c *CMId) Destroy() error {
	c.destroyed = true
	c.provider.net.mu.Lock()
	if l, ok := c.provider.net.listeners[c.localAddr]; ok && l == c {
		delete(c.provider.net.listeners, c.localAddr)
	}
	c.provider.net.mu.Unlock()
	return nil
}

func (c *CMId) GIDStrings() (string, string, bool) { return "", "", false }

//----------------------------------------------------------------------
// Protection domain / memory regions

type PD struct{ deallocated bool }

func (p *Provider) AllocPD(ctx verbs.Context) (verbs.ProtectionDomain, error) {
	return &PD{}, nil
}

func (p *PD) Dealloc() error {
	if p.deallocated {
		return errors.New("fake: double Dealloc")
	}
	p.deallocated = true
	return nil
}

var rkeyCounter uint32

type MR struct {
	buf  []byte
	rkey uint32
	lkey uint32
}

func (p *Provider) RegMR(pd verbs.ProtectionDomain, buf []byte, access verbs.AccessFlag) (verbs.MR, error) {
	if len(buf) == 0 {
		return nil, errors.New("fake: RegMR on empty buffer")
	}
	k := atomic.AddUint32(&rkeyCounter, 1)
	return &MR{buf: buf, rkey: k, lkey: k}, nil
}

func (m *MR) Addr() uintptr { return addrOf(m.buf) }
func (m *MR) Length() int   { return len(m.buf) }
func (m *MR) RKey() uint32  { return m.rkey }
func (m *MR) LKey() uint32  { return m.lkey }
func (m *MR) Dereg() error  { return nil }

//----------------------------------------------------------------------
// Completion channel / CQ / QP

type CompChannel struct{ ec *EventChannel }

func (p *Provider) CreateCompChannel(ctx verbs.Context) (verbs.CompChannel, error) {
	return &CompChannel{ec: newEventChannel()}, nil
}

func (c *CompChannel) Fd() int      { return c.ec.Fd() }
func (c *CompChannel) Destroy() error { return c.ec.Destroy() }

type CQ struct {
	mu      sync.Mutex
	wcs     []verbs.WC
	channel *CompChannel
}

func (p *Provider) CreateCQ(ctx verbs.Context, cqe int, ch verbs.CompChannel) (verbs.CQ, error) {
	cc, _ := ch.(*CompChannel)
	return &CQ{channel: cc}, nil
}

func (q *CQ) Fd() int {
	if q.channel == nil {
		return -1
	}
	return q.channel.Fd()
}

func (q *CQ) ReqNotify(solicitedOnly bool) error { return nil }

func (q *CQ) GetEvent() error {
	if q.channel == nil {
		return errors.New("fake: GetEvent on a CQ with no channel")
	}
	_, err := q.channel.ec.pop()
	return err
}

func (q *CQ) AckEvents(n uint32) {}

func (q *CQ) push(wc verbs.WC) {
	q.mu.Lock()
	q.wcs = append(q.wcs, wc)
	q.mu.Unlock()
	if q.channel != nil {
		q.channel.ec.push(&verbs.CMEvent{Type: verbs.EventOther})
	}
}

func (q *CQ) Poll(max int) ([]verbs.WC, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.wcs) == 0 {
		return nil, nil
	}
	n := max
	if n > len(q.wcs) {
		n = len(q.wcs)
	}
	out := q.wcs[:n]
	q.wcs = q.wcs[n:]
	return out, nil
}

func (q *CQ) Destroy() error { return nil }

// QP is a fake queue pair: every posted work request is completed
// synchronously against the paired send/recv CQ, honoring the
// signaled-or-not flag the same way a real NIC only raises a completion
// for signaled (or failed) work requests.
type QP struct {
	sendCQ, recvCQ verbs.CQ
	inlineMax      uint32
	destroyed      bool

	// FailNext, if set, makes the next PostSend generate a completion
	// carrying this error as its status (even if the request was not
	// signaled) instead of completing successfully; the post itself still
	// returns nil. PostRecv does not consult it.
	FailNext error
}

func (q *QP) PostSend(wr *verbs.SendWR) error {
	if q.destroyed {
		return errors.New("fake: PostSend on destroyed QP")
	}
	status := q.FailNext
	q.FailNext = nil
	signaled := wr.Flags&verbs.WRSignaled != 0 || status != nil
	if cq, ok := q.sendCQ.(*CQ); ok && signaled {
		cq.push(verbs.WC{WRID: wr.WRID, Opcode: wr.Opcode, Status: status, Imm: wr.ImmData})
	}
	return nil
}

func (q *QP) PostRecv(wr *verbs.RecvWR) error {
	if q.destroyed {
		return errors.New("fake: PostRecv on destroyed QP")
	}
	cq := q.recvCQ
	if cq == nil {
		cq = q.sendCQ
	}
	if fcq, ok := cq.(*CQ); ok {
		fcq.push(verbs.WC{WRID: wr.WRID, Opcode: verbs.OpcodeRecv})
	}
	return nil
}

func (q *QP) Destroy() error {
	q.destroyed = true
	return nil
}

//----------------------------------------------------------------------
// mmap emulation for the flush engine's RAW buffer

func (p *Provider) MapAnonymous(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (p *Provider) Unmap(buf []byte) error { return nil }

func addrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
