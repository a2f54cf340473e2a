/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package transport implements the Transport singleton and endpoint manager:
// it owns the UDP sockets, the ARDP handle, the
// endpoint tables, and the maintenance/dispatcher goroutines that fan
// datagrams in and callbacks out.
//
// A Handle keeps a single egress/primary socket, bound at Start to the
// configured PrimaryListen or an ephemeral port; additional StartListen
// calls add ingress sockets feeding the same Handle. Multi-homed reply
// routing (egress selection per listen socket) is a known follow-up.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/meshbus/ardp/ardp"
	"github.com/meshbus/ardp/dispatcher"
	"github.com/meshbus/ardp/endpoint"
	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/atomicx"
	"github.com/meshbus/ardp/internal/logfield"
	"github.com/meshbus/ardp/internal/runner"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the Transport-level tunables beyond the protocol-internal
// ones already in ardp.Config.
type Config struct {
	ARDP ardp.Config

	AuthTimeout         time.Duration
	SessionSetupTimeout time.Duration
	MaxIncompleteConns  int
	MaxCompletedConns   int
	MaxUntrustedClients int

	ManageInterval time.Duration

	// PrimaryListen binds the Handle's single egress socket at Start. If
	// nil, an ephemeral "0.0.0.0:0" socket is used (active-only mode).
	PrimaryListen *ListenSpec

	// Hello is this Transport's own hello-reply payload, returned
	// verbatim from accept_cb.
	Hello []byte
}

// DefaultConfig returns the daemon's documented defaults.
func DefaultConfig() Config {
	return Config{
		ARDP:                ardp.DefaultConfig(),
		AuthTimeout:         20000 * time.Millisecond,
		SessionSetupTimeout: 30000 * time.Millisecond,
		MaxIncompleteConns:  10,
		MaxCompletedConns:   50,
		MaxUntrustedClients: 0,
		ManageInterval:      DefaultManageInterval,
	}
}

type inboundDatagram struct {
	from *net.UDPAddr
	dst  net.IP // local address the datagram arrived on, nil if unavailable
	data []byte
}

// Transport is the process-wide owner of sockets, protocol handle, endpoint
// tables and the two core goroutines.
type Transport struct {
	cfg         Config
	router      Router
	nameService NameService

	handle   *ardp.Handle
	dispatch *dispatcher.Dispatcher
	tables   *tables
	mgr      *manager
	metrics  *metrics

	sockMu  sync.Mutex
	sockets []net.PacketConn
	specs   map[string]*ListenSpec

	datagrams   chan inboundDatagram
	tickTimer   *runner.NudgeableTimer
	manageTimer *runner.NudgeableTimer

	// ingressDst is the local address the datagram currently being handled
	// arrived on. Written and read only on the maintenance goroutine, so
	// the synchronous accept callback can attribute the SYN to a binding.
	ingressDst net.IP

	maintenance runner.Runner
	group       *errgroup.Group
	groupCtx    context.Context
	groupCancel context.CancelFunc

	running atomicx.Bool
}

// New constructs a Transport in the implicit pre-start state. router is required;
// nameService and reg may be nil.
func New(cfg Config, router Router, nameService NameService, reg prometheus.Registerer) *Transport {
	tr := &Transport{
		cfg:         cfg,
		router:      router,
		nameService: nameService,
		tables:      newTables(),
		specs:       make(map[string]*ListenSpec),
		datagrams:   make(chan inboundDatagram, 256),
		metrics:     newMetrics(reg),
	}

	tr.dispatch = dispatcher.New(tr.lookupSink, tr.onConnectEntry)
	tr.mgr = &manager{
		tables:      tr.tables,
		dispatch:    tr.dispatch,
		authTimeout: cfg.AuthTimeout,
		stallAfter:  cfg.ARDP.ConnectTimeout * time.Duration(cfg.ARDP.ConnectRetries),
	}

	return tr
}

func (tr *Transport) isStopping() bool { return !tr.running.Load() }

func (tr *Transport) lookupSink(connID uint32) (dispatcher.Sink, bool) {
	return tr.tables.lookupActive(connID)
}

// Start spawns the dispatcher,
// binds the primary socket, constructs the ARDP handle, and spawns the
// maintenance loop. Fails if already running.
func (tr *Transport) Start(ctx context.Context) error {
	if !tr.running.CompareAndSwap(false, true) {
		return apperr.TransportAlreadyRunning.Error()
	}

	if tr.nameService != nil {
		if err := tr.nameService.Enable(); err != nil {
			tr.running.Store(false)
			return err
		}
	}

	primary := tr.cfg.PrimaryListen
	if primary == nil {
		primary = &ListenSpec{Addr: "0.0.0.0", Port: 0}
	}

	sock, err := net.ListenUDP("udp4", primary.UDPAddr())
	if err != nil {
		tr.running.Store(false)
		return err
	}
	pc := controlConn(sock)

	tr.sockMu.Lock()
	tr.sockets = append(tr.sockets, sock)
	tr.sockMu.Unlock()

	tr.handle = ardp.NewHandle(sock, tr.cfg.ARDP, ardp.Callbacks{
		Accept:     tr.onAccept,
		Connect:    tr.onConnect,
		Disconnect: tr.onDisconnect,
		Recv:       tr.onRecv,
		Send:       tr.onSend,
		SendWindow: tr.onSendWindow,
	})

	if err := tr.dispatch.Start(ctx); err != nil {
		tr.running.Store(false)
		return err
	}

	tr.tickTimer = runner.NewNudgeableTimer(tr.cfg.ARDP.ProbeTimeout)
	tr.manageTimer = runner.NewNudgeableTimer(tr.cfg.ManageInterval)

	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	tr.group = group
	tr.groupCtx = gctx
	tr.groupCancel = cancel

	group.Go(func() error { return tr.readLoop(gctx, pc) })

	tr.maintenance = runner.New(tr.maintenanceLoop, nil)
	return tr.maintenance.Start(ctx)
}

// readLoop feeds inbound datagrams from one socket into the shared channel
// the maintenance loop drains, carrying each datagram's destination address
// from the control message when the kernel supplies one.
func (tr *Transport) readLoop(ctx context.Context, conn *ipv4.PacketConn) error {
	buf := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, cm, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logfield.Warn("listen socket read error").ErrorAdd(err).Log()
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		var dst net.IP
		if cm != nil {
			dst = cm.Dst
		}

		udpAddr, _ := addr.(*net.UDPAddr)
		select {
		case tr.datagrams <- inboundDatagram{from: udpAddr, dst: dst, data: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

// maintenanceLoop is the single maintenance thread, split into a datagram
// path and a timer path, both serialized through the Handle's own lock.
func (tr *Transport) maintenanceLoop(ctx context.Context) error {
	tr.manageTimer.Reset(tr.cfg.ManageInterval)

	for {
		select {
		case <-ctx.Done():
			return nil

		case dg := <-tr.datagrams:
			tr.ingressDst = dg.dst
			tr.handle.HandleDatagram(dg.from, dg.data)
			tr.tickTimer.Reset(tr.handle.Tick(time.Now()))

		case <-tr.tickTimer.C():
			tr.tickTimer.Reset(tr.handle.Tick(time.Now()))

		case <-tr.manageTimer.C():
			changed := tr.mgr.runCycle(time.Now())
			pre, auth, active := tr.tables.counts()
			tr.metrics.setTableSizes(pre, auth, active)

			if changed {
				tr.manageTimer.Nudge()
			} else {
				tr.manageTimer.Reset(tr.cfg.ManageInterval)
			}
		}
	}
}

// Stop is advisory: it sets every active endpoint to STOPPING and does not
// block.
func (tr *Transport) Stop(ctx context.Context) error {
	if !tr.running.Load() {
		return nil
	}

	for _, ep := range tr.tables.activeSnapshot() {
		ep.Stop()
	}
	if tr.manageTimer != nil {
		tr.manageTimer.Nudge()
	}

	return nil
}

// Join blocks, bounded, until no core-owned goroutine remains and every
// endpoint has been torn down, polling at ~10 ms granularity; on timeout it
// proceeds and logs the stall.
func (tr *Transport) Join(ctx context.Context) error {
	if !tr.running.CompareAndSwap(true, false) {
		return nil
	}

	deadline := time.Now().Add(tr.cfg.ARDP.TimeWait * 10)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

waitQuiescent:
	for {
		_, _, active := tr.tables.counts()
		if active == 0 {
			break
		}
		if time.Now().After(deadline) {
			logfield.Warn("join stalled, proceeding with endpoints outstanding").FieldAdd("active", active).Log()
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			break waitQuiescent
		}
	}

	if tr.groupCancel != nil {
		tr.groupCancel()
	}
	_ = tr.maintenance.Stop(ctx)
	_ = tr.dispatch.Stop(ctx)
	if tr.group != nil {
		_ = tr.group.Wait()
	}
	if tr.tickTimer != nil {
		tr.tickTimer.Stop()
	}
	if tr.manageTimer != nil {
		tr.manageTimer.Stop()
	}

	tr.sockMu.Lock()
	for _, s := range tr.sockets {
		_ = s.Close()
	}
	tr.sockets = nil
	tr.sockMu.Unlock()

	if tr.nameService != nil {
		_ = tr.nameService.Disable()
	}

	return nil
}

// StartListen adds a listening socket for spec. Its datagrams feed the same Handle as the primary socket.
func (tr *Transport) StartListen(ctx context.Context, spec string) error {
	if !tr.running.Load() {
		return apperr.TransportNotStarted.Error()
	}

	ls, err := ParseListenSpec(spec)
	if err != nil {
		return err
	}

	canon := ls.String()
	tr.sockMu.Lock()
	if _, exists := tr.specs[canon]; exists {
		tr.sockMu.Unlock()
		return apperr.TransportAlreadyListening.Error()
	}
	tr.sockMu.Unlock()

	sock, err := net.ListenUDP("udp4", ls.UDPAddr())
	if err != nil {
		return err
	}
	pc := controlConn(sock)

	tr.sockMu.Lock()
	tr.sockets = append(tr.sockets, sock)
	tr.specs[canon] = ls
	tr.sockMu.Unlock()

	tr.group.Go(func() error { return tr.readLoop(tr.groupCtx, pc) })
	return nil
}

// StopListen removes spec from the listen set that GetListenAddresses
// reports. The socket bound for it is not closed: it keeps feeding the
// Handle until Join closes every socket.
func (tr *Transport) StopListen(spec string) error {
	canon, err := Normalize(spec)
	if err != nil {
		return err
	}

	tr.sockMu.Lock()
	defer tr.sockMu.Unlock()
	if _, ok := tr.specs[canon]; !ok {
		return apperr.TransportBadSpec.Error()
	}
	delete(tr.specs, canon)
	return nil
}

// LocalAddr reports the primary socket's bound address, useful when the
// configured spec asked the OS to assign the port.
func (tr *Transport) LocalAddr() *net.UDPAddr {
	tr.sockMu.Lock()
	defer tr.sockMu.Unlock()

	if len(tr.sockets) == 0 {
		return nil
	}
	addr, _ := tr.sockets[0].LocalAddr().(*net.UDPAddr)
	return addr
}

// GetListenAddresses returns every bound listen spec in canonical form.
func (tr *Transport) GetListenAddresses() []string {
	tr.sockMu.Lock()
	defer tr.sockMu.Unlock()

	out := make([]string, 0, len(tr.specs))
	for canon := range tr.specs {
		out = append(out, canon)
	}
	return out
}

func (tr *Transport) EnableAdvertisement(name string) error {
	if tr.nameService == nil {
		return nil
	}
	return tr.nameService.Advertise(name)
}

func (tr *Transport) DisableAdvertisement(name string) error {
	if tr.nameService == nil {
		return nil
	}
	return tr.nameService.CancelAdvertise(name)
}

func (tr *Transport) EnableDiscovery(prefix string) error {
	if tr.nameService == nil {
		return nil
	}
	return tr.nameService.Find(prefix)
}

func (tr *Transport) DisableDiscovery(prefix string) error {
	if tr.nameService == nil {
		return nil
	}
	return tr.nameService.CancelFind(prefix)
}

// Connect parses the spec, refuses
// self-connects and unreachable targets, issues ardp_connect under the
// list lock then the ARDP lock (in that order), and blocks on a
// pending-async-join record bounded by connect_timeout * (2 + connect_retries).
func (tr *Transport) Connect(ctx context.Context, spec string, hello []byte) (*endpoint.Endpoint, error) {
	if !tr.running.Load() {
		return nil, apperr.TransportNotStarted.Error()
	}

	ls, err := ParseListenSpec(spec)
	if err != nil {
		return nil, err
	}
	remote := ls.UDPAddr()

	nets, err := localInterfaceAddrs()
	if err != nil {
		return nil, err
	}

	tr.sockMu.Lock()
	ownPort := 0
	if len(tr.sockets) > 0 {
		if a, ok := tr.sockets[0].LocalAddr().(*net.UDPAddr); ok {
			ownPort = a.Port
		}
	}
	tr.sockMu.Unlock()

	if isSelfAddr(remote, ownPort, nets) {
		return nil, apperr.TransportSelfConnect.Error()
	}
	if !hasRoute(remote, nets) {
		return nil, apperr.TransportNoNetwork.Error()
	}

	tr.tables.mu.Lock()
	connID, err := tr.handle.Connect(remote, hello)
	if err != nil {
		tr.tables.mu.Unlock()
		return nil, err
	}
	pj := &pendingJoin{result: make(chan connectOutcome, 1)}
	tr.tables.pending[connID] = pj
	tr.tables.mu.Unlock()

	tr.tickTimer.Nudge()

	began := time.Now()
	timer := time.NewTimer(tr.cfg.ARDP.ConnectDeadline())
	defer timer.Stop()

	select {
	case out := <-pj.result:
		tr.metrics.connectLatency.Observe(time.Since(began).Seconds())
		return out.ep, out.err
	case <-timer.C:
		tr.tables.removePending(connID)
		return nil, apperr.TransportConnectTimeout.Error()
	case <-ctx.Done():
		tr.tables.removePending(connID)
		return nil, ctx.Err()
	}
}

// onAccept admits or rejects an inbound SYN against the connection limits.
// Endpoints still parked on pre count as authenticating: they only move to
// auth on the next manage cycle, and two back-to-back SYNs must not both
// slip under the limit in that window.
func (tr *Transport) onAccept(connID uint32, remote *net.UDPAddr, hello []byte) (bool, []byte) {
	pre, auth, active := tr.tables.counts()
	if pre+auth >= tr.cfg.MaxIncompleteConns || pre+auth+active >= tr.cfg.MaxCompletedConns {
		logfield.Warn("inbound connection rejected by admission limits").
			FieldAdd("remote_addr", remote.String()).
			FieldAdd("local_addr", tr.localAddrString()).
			FieldAdd("authenticating", pre+auth).
			FieldAdd("active", active).Log()
		return false, nil
	}

	logfield.Debug("inbound connection admitted").
		FieldAdd("conn_id", connID).
		FieldAdd("remote_addr", remote.String()).
		FieldAdd("local_addr", tr.localAddrString()).Log()

	ep := endpoint.New(connID, false, remote, tr.router, tr.handle,
		tr.cfg.ARDP.DataTimeout, tr.cfg.ARDP.DataRetries, tr.manageTimer.Nudge, tr.isStopping)
	applyHello(ep, hello)
	ep.Stream.SetBackpressureHook(tr.metrics.backpressure.Inc)
	tr.tables.putPre(ep)

	return true, tr.cfg.Hello
}

// localAddrString renders the local address the in-flight datagram targeted,
// for accept-path logs. Maintenance goroutine only.
func (tr *Transport) localAddrString() string {
	if tr.ingressDst == nil {
		return ""
	}
	return tr.ingressDst.String()
}

func (tr *Transport) onConnect(connID uint32, passive bool, helloReply []byte, status ardp.Status) {
	tr.dispatch.Enqueue(dispatcher.Entry{
		Kind:       dispatcher.KindConnectCb,
		ConnID:     connID,
		Passive:    passive,
		Success:    status == ardp.StatusOK,
		HelloReply: helloReply,
		Status:     status,
	})
}

func (tr *Transport) onDisconnect(connID uint32, status ardp.Status) {
	tr.metrics.connectionsLost.Inc()
	tr.dispatch.Enqueue(dispatcher.Entry{Kind: dispatcher.KindDisconnectCb, ConnID: connID, Status: status})
}

func (tr *Transport) onRecv(buf *ardp.RcvBuf, status ardp.Status) {
	if status == ardp.StatusOK {
		tr.metrics.messagesRecv.Inc()
	}
	tr.dispatch.Enqueue(dispatcher.Entry{Kind: dispatcher.KindRecvCb, ConnID: buf.ConnID, Rcv: buf, Status: status})
}

func (tr *Transport) onSend(connID uint32, buf []byte, status ardp.Status) {
	if status == ardp.StatusOK {
		tr.metrics.messagesSent.Inc()
	}
	tr.dispatch.Enqueue(dispatcher.Entry{Kind: dispatcher.KindSendCb, ConnID: connID, Buf: buf, Status: status})
}

// onSendWindow is a metrics/log hook only: it never calls into the router or
// an endpoint, so it does not need to cross the dispatcher.
func (tr *Transport) onSendWindow(connID uint32, window uint16) {
	logfield.Debug("peer window updated").FieldAdd("conn_id", connID).FieldAdd("window", window).Log()
}

// onConnectEntry is the dispatcher's ConnectHandler, the only workqueue
// entry kind permitted to create or reassign endpoints.
func (tr *Transport) onConnectEntry(e dispatcher.Entry) {
	switch {
	case e.Passive && e.Success:
		ep, ok := tr.tables.takePreOrAuth(e.ConnID)
		if !ok {
			return
		}
		tr.tables.putActive(ep)
		if err := ep.Start(); err != nil {
			logfield.Warn("passive endpoint failed to start").FieldAdd("conn_id", e.ConnID).ErrorAdd(err).Log()
		}

	case e.Passive && !e.Success:
		ep, ok := tr.tables.takePreOrAuth(e.ConnID)
		if !ok {
			return
		}
		tr.tables.putActive(ep)
		ep.Stop()
		tr.manageTimer.Nudge()

	case !e.Passive && e.Success:
		remote, _ := tr.handle.RemoteAddr(e.ConnID)
		ep := endpoint.New(e.ConnID, true, remote, tr.router, tr.handle,
			tr.cfg.ARDP.DataTimeout, tr.cfg.ARDP.DataRetries, tr.manageTimer.Nudge, tr.isStopping)
		applyHello(ep, e.HelloReply)
		ep.Stream.SetBackpressureHook(tr.metrics.backpressure.Inc)

		tr.tables.putActive(ep)
		if err := ep.Start(); err != nil {
			logfield.Warn("active endpoint failed to start").FieldAdd("conn_id", e.ConnID).ErrorAdd(err).Log()
			tr.tables.resolvePending(e.ConnID, connectOutcome{err: err})
			return
		}
		tr.tables.resolvePending(e.ConnID, connectOutcome{ep: ep})

	case !e.Passive && !e.Success:
		var err error
		if e.Status == ardp.StatusTimeout {
			err = apperr.TransportConnectTimeout.Error()
		} else if e.Status == ardp.StatusRemoteReset {
			// The listener answers a SYN it refuses at admission with RST.
			err = apperr.TransportConnRejected.Error()
		} else {
			err = apperr.ArdpConnectionClosed.Error()
		}
		tr.tables.resolvePending(e.ConnID, connectOutcome{err: err})
	}
}
