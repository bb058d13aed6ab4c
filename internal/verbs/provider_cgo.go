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

//go:build linux && cgo

package verbs

/*
#cgo LDFLAGS: -lrdmacm -libverbs
#include <stdlib.h>
#include <string.h>
#include <sys/mman.h>
#include <arpa/inet.h>
#include <errno.h>
#include <rdma/rdma_cma.h>
#include <infiniband/verbs.h>

static int rpma_errno(void) { return errno; }

// IPv4-only helpers: the real librpma resolves via rdma_getaddrinfo for the
// happy path and falls back to explicit sockaddrs only for bind/resolve
// against an already-known local address. This library's test matrix never
// exercises IPv6, so only the v4 path is wired; IPv6 is a documented gap.
static int rpma_resolve_addr(struct rdma_cm_id *id, const char *src_ip, const char *dst_ip,
		uint16_t port, int timeout_ms) {
	struct sockaddr_in src, dst;
	memset(&src, 0, sizeof(src));
	memset(&dst, 0, sizeof(dst));
	dst.sin_family = AF_INET;
	dst.sin_port = htons(port);
	if (dst_ip && *dst_ip)
		inet_pton(AF_INET, dst_ip, &dst.sin_addr);
	struct sockaddr *srcp = NULL;
	if (src_ip && *src_ip) {
		src.sin_family = AF_INET;
		inet_pton(AF_INET, src_ip, &src.sin_addr);
		srcp = (struct sockaddr *)&src;
	}
	return rdma_resolve_addr(id, srcp, (struct sockaddr *)&dst, timeout_ms);
}

static int rpma_bind_addr(struct rdma_cm_id *id, const char *ip, uint16_t port) {
	struct sockaddr_in sa;
	memset(&sa, 0, sizeof(sa));
	sa.sin_family = AF_INET;
	sa.sin_port = htons(port);
	if (ip && *ip)
		inet_pton(AF_INET, ip, &sa.sin_addr);
	return rdma_bind_addr(id, (struct sockaddr *)&sa);
}

static struct rdma_addrinfo *rpma_getaddrinfo(const char *addr, const char *port, int passive) {
	struct rdma_addrinfo hints;
	struct rdma_addrinfo *res = NULL;
	memset(&hints, 0, sizeof(hints));
	hints.ai_port_space = RDMA_PS_TCP;
	hints.ai_qp_type = IBV_QPT_RC;
	if (passive)
		hints.ai_flags = RAI_PASSIVE;
	if (rdma_getaddrinfo((char *)addr, (char *)port, &hints, &res))
		return NULL;
	return res;
}

// The RDMA/remote-atomic fields of struct ibv_send_wr live inside an
// anonymous union; cgo cannot address anonymous union members directly,
// so they are set from small C helpers instead.
static void rpma_wr_set_rdma(struct ibv_send_wr *wr, uint64_t remote_addr, uint32_t rkey) {
	wr->wr.rdma.remote_addr = remote_addr;
	wr->wr.rdma.rkey = rkey;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"unsafe"
)

var pendingEvents = newEventTable()

type eventTable struct {
	mu sync.Mutex
	m  map[*CMEvent]unsafe.Pointer
}

func newEventTable() *eventTable {
	return &eventTable{m: make(map[*CMEvent]unsafe.Pointer)}
}

func (t *eventTable) put(ev *CMEvent, raw unsafe.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[ev] = raw
}

func (t *eventTable) take(ev *CMEvent) unsafe.Pointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw, ok := t.m[ev]
	if !ok {
		return nil
	}
	delete(t.m, ev)
	return raw
}

// CGOProvider is the real transport: a thin cgo binding over librdmacm and
// libibverbs. It is the only file in this package that imports "C"; every
// other file in the package, and all of the rpma package, talks only to
// the Provider interface in types.go.
type CGOProvider struct{}

// NewCGOProvider returns the real, hardware-backed transport.
func NewCGOProvider() *CGOProvider { return &CGOProvider{} }

func lastErrno() error {
	return syscall.Errno(C.rpma_errno())
}

type cgoAddrInfo struct {
	side AddrInfoSide
	res  *C.struct_rdma_addrinfo
}

func (a *cgoAddrInfo) Side() AddrInfoSide { return a.side }

func (p *CGOProvider) GetAddrInfo(addr, port string, side AddrInfoSide) (AddrInfo, error) {
	caddr := C.CString(addr)
	defer C.free(unsafe.Pointer(caddr))
	cport := C.CString(port)
	defer C.free(unsafe.Pointer(cport))

	passive := C.int(0)
	if side == SidePassive {
		passive = 1
	}
	res := C.rpma_getaddrinfo(caddr, cport, passive)
	if res == nil {
		return nil, errors.New("rdma_getaddrinfo failed")
	}
	return &cgoAddrInfo{side: side, res: res}, nil
}

type cgoEventChannel struct{ ch *C.struct_rdma_event_channel }

func (c *cgoEventChannel) Fd() int { return int(c.ch.fd) }
func (c *cgoEventChannel) Destroy() error {
	C.rdma_destroy_event_channel(c.ch)
	return nil
}

func (p *CGOProvider) CreateEventChannel() (EventChannel, error) {
	ch := C.rdma_create_event_channel()
	if ch == nil {
		return nil, lastErrno()
	}
	return &cgoEventChannel{ch: ch}, nil
}

type cgoContext struct{ verbs *C.struct_ibv_context }

func (c *cgoContext) QueryDevice() (DeviceCaps, error) {
	var attr C.struct_ibv_device_attr
	if C.ibv_query_device(c.verbs, &attr) != 0 {
		return DeviceCaps{}, lastErrno()
	}
	// ODP and native atomic-write support require the extended query;
	// conservatively reported unsupported here and left for a capable
	// provider build to refine.
	return DeviceCaps{ODPSupported: false, NativeAtomicWrite: false}, nil
}

type cgoCMId struct {
	id *C.struct_rdma_cm_id
}

func (c *cgoCMId) Context() Context {
	if c.id.verbs == nil {
		return nil
	}
	return &cgoContext{verbs: c.id.verbs}
}

func splitHostPort(a net.Addr) (host, port string, err error) {
	return net.SplitHostPort(a.String())
}

func (c *cgoCMId) BindAddr(local net.Addr) error {
	host, portStr, err := splitHostPort(local)
	if err != nil {
		return err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return err
	}
	chost := C.CString(host)
	defer C.free(unsafe.Pointer(chost))
	if C.rpma_bind_addr(c.id, chost, C.uint16_t(port)) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) ResolveAddr(local, remote net.Addr, timeoutMs int) error {
	dstHost, portStr, err := splitHostPort(remote)
	if err != nil {
		return err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return err
	}
	var srcHost string
	if local != nil {
		if srcHost, _, err = splitHostPort(local); err != nil {
			return err
		}
	}
	cdst := C.CString(dstHost)
	defer C.free(unsafe.Pointer(cdst))
	csrc := C.CString(srcHost)
	defer C.free(unsafe.Pointer(csrc))
	if C.rpma_resolve_addr(c.id, csrc, cdst, C.uint16_t(port), C.int(timeoutMs)) != 0 {
		return lastErrno()
	}
	return nil
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}

func (c *cgoCMId) ResolveRoute(timeoutMs int) error {
	if C.rdma_resolve_route(c.id, C.int(timeoutMs)) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Listen(backlog int) error {
	if C.rdma_listen(c.id, C.int(backlog)) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) CreateQP(pd ProtectionDomain, attr QPInitAttr) (QP, error) {
	var initAttr C.struct_ibv_qp_init_attr
	initAttr.qp_type = C.IBV_QPT_RC
	initAttr.sq_sig_all = 0
	initAttr.cap.max_send_wr = C.uint32_t(attr.MaxSendWR)
	initAttr.cap.max_recv_wr = C.uint32_t(attr.MaxRecvWR)
	initAttr.cap.max_send_sge = C.uint32_t(attr.MaxSendSGE)
	initAttr.cap.max_recv_sge = C.uint32_t(attr.MaxRecvSGE)
	initAttr.cap.max_inline_data = C.uint32_t(attr.MaxInlineData)
	if sendCQ, ok := attr.SendCQ.(*cgoCQ); ok {
		initAttr.send_cq = sendCQ.cq
	}
	if recvCQ, ok := attr.RecvCQ.(*cgoCQ); ok {
		initAttr.recv_cq = recvCQ.cq
	}
	if C.rdma_create_qp(c.id, nil, &initAttr) != 0 {
		return nil, lastErrno()
	}
	return &cgoQP{qp: c.id.qp}, nil
}

func (c *cgoCMId) Connect(param *ConnParam) error {
	var p C.struct_rdma_conn_param
	p.responder_resources = C.uint8_t(param.ResponderResources)
	p.initiator_depth = C.uint8_t(param.InitiatorDepth)
	p.flow_control = C.uint8_t(param.FlowControl)
	p.retry_count = C.uint8_t(param.RetryCount)
	p.rnr_retry_count = C.uint8_t(param.RNRRetryCount)
	if len(param.PrivateData) > 0 {
		p.private_data = unsafe.Pointer(&param.PrivateData[0])
		p.private_data_len = C.uint8_t(len(param.PrivateData))
	}
	if C.rdma_connect(c.id, &p) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Accept(param *ConnParam) error {
	var p C.struct_rdma_conn_param
	p.responder_resources = C.uint8_t(param.ResponderResources)
	p.initiator_depth = C.uint8_t(param.InitiatorDepth)
	p.flow_control = C.uint8_t(param.FlowControl)
	p.retry_count = C.uint8_t(param.RetryCount)
	p.rnr_retry_count = C.uint8_t(param.RNRRetryCount)
	if len(param.PrivateData) > 0 {
		p.private_data = unsafe.Pointer(&param.PrivateData[0])
		p.private_data_len = C.uint8_t(len(param.PrivateData))
	}
	if C.rdma_accept(c.id, &p) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Reject() error {
	if C.rdma_reject(c.id, nil, 0) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Disconnect() error {
	if C.rdma_disconnect(c.id) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Migrate(ch EventChannel) error {
	var raw *C.struct_rdma_event_channel
	if cec, ok := ch.(*cgoEventChannel); ok {
		raw = cec.ch
	}
	if C.rdma_migrate_id(c.id, raw) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCMId) Destroy() error {
	if C.rdma_destroy_id(c.id) != 0 {
		return lastErrno()
	}
	return nil
}

// GIDStrings is a best-effort diagnostic only (see conn_req.c's
// rpma_snprintf_gid). This binding does not decode the path record's
// GIDs and always reports ok=false; the caller logs nothing in that case.
func (c *cgoCMId) GIDStrings() (src, dst string, ok bool) {
	if c.id.route.path_rec == nil {
		return "", "", false
	}
	return "", "", false
}

func (p *CGOProvider) CreateID(ch EventChannel) (CMId, error) {
	var raw *C.struct_rdma_event_channel
	if cec, ok := ch.(*cgoEventChannel); ok {
		raw = cec.ch
	}
	var id *C.struct_rdma_cm_id
	if C.rdma_create_id(raw, &id, nil, C.RDMA_PS_TCP) != 0 {
		return nil, lastErrno()
	}
	return &cgoCMId{id: id}, nil
}

func (p *CGOProvider) GetCMEvent(ch EventChannel) (*CMEvent, error) {
	cec, ok := ch.(*cgoEventChannel)
	if !ok {
		return nil, errors.New("GetCMEvent: wrong channel type")
	}
	var ev *C.struct_rdma_cm_event
	if C.rdma_get_cm_event(cec.ch, &ev) != 0 {
		if errno := lastErrno(); errno == syscall.ENODATA {
			return nil, ErrNoPendingEvent
		} else {
			return nil, errno
		}
	}
	out := &CMEvent{Type: mapEventType(ev.event)}
	if ev.param.conn.private_data_len > 0 {
		out.PrivateData = C.GoBytes(ev.param.conn.private_data, C.int(ev.param.conn.private_data_len))
	}
	if ev.event == C.RDMA_CM_EVENT_CONNECT_REQUEST {
		out.NewID = &cgoCMId{id: ev.id}
	}
	// stash the raw event pointer for AckCMEvent via a side channel
	pendingEvents.put(out, unsafe.Pointer(ev))
	return out, nil
}

func (p *CGOProvider) AckCMEvent(ev *CMEvent) error {
	raw := pendingEvents.take(ev)
	if raw == nil {
		return errors.New("AckCMEvent: unknown event")
	}
	if C.rdma_ack_cm_event((*C.struct_rdma_cm_event)(raw)) != 0 {
		return lastErrno()
	}
	return nil
}

func mapEventType(t C.enum_rdma_cm_event_type) CMEventType {
	switch t {
	case C.RDMA_CM_EVENT_CONNECT_REQUEST:
		return EventConnectRequest
	case C.RDMA_CM_EVENT_ESTABLISHED:
		return EventEstablished
	case C.RDMA_CM_EVENT_CONNECT_ERROR:
		return EventConnectError
	case C.RDMA_CM_EVENT_DEVICE_REMOVAL:
		return EventDeviceRemoval
	case C.RDMA_CM_EVENT_DISCONNECTED:
		return EventDisconnected
	case C.RDMA_CM_EVENT_TIMEWAIT_EXIT:
		return EventTimewaitExit
	case C.RDMA_CM_EVENT_REJECTED:
		return EventRejected
	case C.RDMA_CM_EVENT_UNREACHABLE:
		return EventUnreachable
	default:
		return EventOther
	}
}

type cgoPD struct{ pd *C.struct_ibv_pd }

func (p *cgoPD) Dealloc() error {
	if C.ibv_dealloc_pd(p.pd) != 0 {
		return lastErrno()
	}
	return nil
}

func (p *CGOProvider) AllocPD(ctx Context) (ProtectionDomain, error) {
	cctx, ok := ctx.(*cgoContext)
	if !ok {
		return nil, errors.New("AllocPD: wrong context type")
	}
	pd := C.ibv_alloc_pd(cctx.verbs)
	if pd == nil {
		return nil, lastErrno()
	}
	return &cgoPD{pd: pd}, nil
}

type cgoMR struct{ mr *C.struct_ibv_mr }

func (m *cgoMR) Addr() uintptr { return uintptr(m.mr.addr) }
func (m *cgoMR) Length() int   { return int(m.mr.length) }
func (m *cgoMR) RKey() uint32  { return uint32(m.mr.rkey) }
func (m *cgoMR) LKey() uint32  { return uint32(m.mr.lkey) }
func (m *cgoMR) Dereg() error {
	if C.ibv_dereg_mr(m.mr) != 0 {
		return lastErrno()
	}
	return nil
}

func (p *CGOProvider) RegMR(pd ProtectionDomain, buf []byte, access AccessFlag) (MR, error) {
	cpd, ok := pd.(*cgoPD)
	if !ok {
		return nil, errors.New("RegMR: wrong pd type")
	}
	if len(buf) == 0 {
		return nil, errors.New("RegMR: empty buffer")
	}
	mr := C.ibv_reg_mr(cpd.pd, unsafe.Pointer(&buf[0]), C.size_t(len(buf)), C.int(access))
	if mr == nil {
		return nil, lastErrno()
	}
	return &cgoMR{mr: mr}, nil
}

type cgoCompChannel struct{ ch *C.struct_ibv_comp_channel }

func (c *cgoCompChannel) Fd() int { return int(c.ch.fd) }
func (c *cgoCompChannel) Destroy() error {
	if C.ibv_destroy_comp_channel(c.ch) != 0 {
		return lastErrno()
	}
	return nil
}

func (p *CGOProvider) CreateCompChannel(ctx Context) (CompChannel, error) {
	cctx, ok := ctx.(*cgoContext)
	if !ok {
		return nil, errors.New("CreateCompChannel: wrong context type")
	}
	ch := C.ibv_create_comp_channel(cctx.verbs)
	if ch == nil {
		return nil, lastErrno()
	}
	return &cgoCompChannel{ch: ch}, nil
}

type cgoCQ struct {
	cq      *C.struct_ibv_cq
	channel *C.struct_ibv_comp_channel
}

func (c *cgoCQ) Fd() int {
	if c.channel == nil {
		return -1
	}
	return int(c.channel.fd)
}

func (c *cgoCQ) ReqNotify(solicitedOnly bool) error {
	only := C.int(0)
	if solicitedOnly {
		only = 1
	}
	if C.ibv_req_notify_cq(c.cq, only) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCQ) GetEvent() error {
	var evCQ *C.struct_ibv_cq
	var ctx unsafe.Pointer
	if C.ibv_get_cq_event(c.channel, &evCQ, (*unsafe.Pointer)(unsafe.Pointer(&ctx))) != 0 {
		return lastErrno()
	}
	return nil
}

func (c *cgoCQ) AckEvents(n uint32) {
	C.ibv_ack_cq_events(c.cq, C.uint(n))
}

func (c *cgoCQ) Poll(max int) ([]WC, error) {
	wcs := make([]C.struct_ibv_wc, max)
	n := int(C.ibv_poll_cq(c.cq, C.int(max), &wcs[0]))
	if n < 0 {
		return nil, errors.New("ibv_poll_cq failed")
	}
	out := make([]WC, n)
	for i := 0; i < n; i++ {
		w := wcs[i]
		out[i] = WC{
			WRID:    uint64(w.wr_id),
			ByteLen: uint32(w.byte_len),
			Imm:     uint32(w.imm_data),
		}
		if w.status != C.IBV_WC_SUCCESS {
			out[i].Status = errors.New(C.GoString(C.ibv_wc_status_str(w.status)))
		}
	}
	return out, nil
}

func (c *cgoCQ) Destroy() error {
	if C.ibv_destroy_cq(c.cq) != 0 {
		return lastErrno()
	}
	return nil
}

func (p *CGOProvider) CreateCQ(ctx Context, cqe int, ch CompChannel) (CQ, error) {
	cctx, ok := ctx.(*cgoContext)
	if !ok {
		return nil, errors.New("CreateCQ: wrong context type")
	}
	var raw *C.struct_ibv_comp_channel
	if cch, ok := ch.(*cgoCompChannel); ok {
		raw = cch.ch
	}
	cq := C.ibv_create_cq(cctx.verbs, C.int(cqe), nil, raw, 0)
	if cq == nil {
		return nil, lastErrno()
	}
	return &cgoCQ{cq: cq, channel: raw}, nil
}

func (p *CGOProvider) MapAnonymous(size int) ([]byte, error) {
	addr, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_ANON|syscall.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return addr, nil
}

func (p *CGOProvider) Unmap(buf []byte) error {
	return syscall.Munmap(buf)
}

type qpPost struct{ qp *C.struct_ibv_qp }

type cgoQP struct{ qp *C.struct_ibv_qp }

func (q *cgoQP) PostSend(wr *SendWR) error {
	var sge C.struct_ibv_sge
	var send C.struct_ibv_send_wr
	send.wr_id = C.uint64_t(wr.WRID)
	if wr.Local.Length > 0 {
		sge.addr = C.uint64_t(wr.Local.Addr)
		sge.length = C.uint32_t(wr.Local.Length)
		sge.lkey = C.uint32_t(wr.Local.LKey)
		send.sg_list = &sge
		send.num_sge = 1
	}
	send.opcode = opcodeToVerbs(wr.Opcode)
	send.send_flags = C.uint32_t(flagsToVerbs(wr.Flags))
	if wr.Opcode == OpcodeAtomicWrite {
		// The 8-byte value is the inline payload of the RDMA-WRITE; inline
		// data is copied at post time, so the buffer is freed on return.
		val := (*C.uint64_t)(C.malloc(8))
		defer C.free(unsafe.Pointer(val))
		*val = C.uint64_t(wr.AtomicAdd)
		sge.addr = C.uint64_t(uintptr(unsafe.Pointer(val)))
		sge.length = 8
		send.sg_list = &sge
		send.num_sge = 1
	}
	if wr.Opcode == OpcodeRead || wr.Opcode == OpcodeWrite || wr.Opcode == OpcodeWriteWithImm || wr.Opcode == OpcodeAtomicWrite {
		C.rpma_wr_set_rdma(&send, C.uint64_t(wr.RemoteAddr), C.uint32_t(wr.RemoteKey))
	}
	if wr.Opcode == OpcodeWriteWithImm || wr.Opcode == OpcodeSendWithImm {
		send.imm_data = C.uint32_t(wr.ImmData)
	}
	var bad *C.struct_ibv_send_wr
	if C.ibv_post_send(q.qp, &send, &bad) != 0 {
		return lastErrno()
	}
	return nil
}

func (q *cgoQP) PostRecv(wr *RecvWR) error {
	var sge C.struct_ibv_sge
	var recv C.struct_ibv_recv_wr
	recv.wr_id = C.uint64_t(wr.WRID)
	sge.addr = C.uint64_t(wr.Local.Addr)
	sge.length = C.uint32_t(wr.Local.Length)
	sge.lkey = C.uint32_t(wr.Local.LKey)
	recv.sg_list = &sge
	recv.num_sge = 1
	var bad *C.struct_ibv_recv_wr
	if C.ibv_post_recv(q.qp, &recv, &bad) != 0 {
		return lastErrno()
	}
	return nil
}

func (q *cgoQP) Destroy() error {
	if C.ibv_destroy_qp(q.qp) != 0 {
		return lastErrno()
	}
	return nil
}

func opcodeToVerbs(op Opcode) C.enum_ibv_wr_opcode {
	switch op {
	case OpcodeRead:
		return C.IBV_WR_RDMA_READ
	case OpcodeWrite:
		return C.IBV_WR_RDMA_WRITE
	case OpcodeWriteWithImm:
		return C.IBV_WR_RDMA_WRITE_WITH_IMM
	case OpcodeSend:
		return C.IBV_WR_SEND
	case OpcodeSendWithImm:
		return C.IBV_WR_SEND_WITH_IMM
	case OpcodeAtomicWrite:
		// Native atomic-write is an extended send op not modeled by the
		// stable ibv_wr_opcode enum on every provider; conservatively
		// posted as an inline RDMA-WRITE here, consistent with the
		// non-native fallback path documented in rpma's peer setup.
		return C.IBV_WR_RDMA_WRITE
	default:
		return C.IBV_WR_SEND
	}
}

func flagsToVerbs(f WRFlag) C.enum_ibv_send_flags {
	var out C.enum_ibv_send_flags
	if f&WRSignaled != 0 {
		out |= C.IBV_SEND_SIGNALED
	}
	if f&WRInline != 0 {
		out |= C.IBV_SEND_INLINE
	}
	if f&WRFence != 0 {
		out |= C.IBV_SEND_FENCE
	}
	if f&WRSolicited != 0 {
		out |= C.IBV_SEND_SOLICITED
	}
	return out
}
