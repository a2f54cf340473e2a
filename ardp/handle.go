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

// Package ardp implements the ARDP reliable-datagram protocol: an
// ordered, reliable, flow-controlled, fragmented message transport over UDP,
// with a SYN/SYN-ACK/ACK handshake that piggybacks an application hello.
//
// The original design describes one reactor entry point, ARDP_run, invoked
// either with a readable socket fd or in timer-only mode, under a single
// lock, from one maintenance thread. Go's
// netpoller already demultiplexes socket readiness without a manual
// wait-then-dispatch step, so this port splits that one entry point into two
// narrower ones reached from the same lock: HandleDatagram, fed by the
// transport's per-socket reader goroutine, and Tick, fed by a nudgeable
// timer. Both still execute under Handle's single lock and both still emit
// callbacks synchronously before returning, preserving "callbacks fire only
// under the ARDP lock".
package ardp

import (
	"net"
	"sync"
	"time"

	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/logfield"
)

// Handle is a per-transport ARDP instance: one UDP socket, one connection
// table, one config, one set of owner callbacks.
type Handle struct {
	mu   sync.Mutex
	sock net.PacketConn
	cfg  Config
	cb   Callbacks

	conns  map[uint32]*Connection
	nextID uint32
}

func NewHandle(sock net.PacketConn, cfg Config, cb Callbacks) *Handle {
	return &Handle{
		sock:   sock,
		cfg:    cfg,
		cb:     cb,
		conns:  make(map[uint32]*Connection),
		nextID: 1,
	}
}

func (h *Handle) allocID() uint32 {
	for {
		id := h.nextID
		h.nextID++
		if id == 0 {
			continue
		}
		if _, used := h.conns[id]; !used {
			return id
		}
	}
}

// Connect issues the active-side SYN carrying the hello payload. It
// returns the provisional connection id immediately; completion (success or
// failure) is reported later via Callbacks.Connect from inside HandleDatagram
// or Tick.
func (h *Handle) Connect(remote *net.UDPAddr, hello []byte) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.allocID()
	c := newConnection(id, remote, h.cfg)
	c.Active = true
	c.State = StateSynSent
	c.helloLocal = hello
	c.lastRecvAt = time.Now()
	h.conns[id] = c

	if err := h.writeSegment(c, Header{Flags: FlagSYN, Window: c.recvWindow}, hello); err != nil {
		delete(h.conns, id)
		return 0, err
	}

	return id, nil
}

// Disconnect initiates a graceful close: FIN is sent and the connection
// enters CLOSING, finishing in TIME-WAIT.
func (h *Handle) Disconnect(connID uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return apperr.ArdpUnknownConnection.Error()
	}
	if c.State == StateClosing || c.State == StateTimeWait || c.State == StateClosed {
		return nil
	}

	c.State = StateClosing
	c.closingAt = time.Now()
	c.finSeq = c.nextSeq()

	return h.writeSegment(c, Header{Flags: FlagFIN,
		Seq: c.finSeq, Ack: c.recvNext, Window: c.recvWindow}, nil)
}

// Send queues data for connID, fragmenting it if needed, and returns
// apperr.ArdpBackpressure synchronously if the peer's window has no room for
// the whole fragment set.
func (h *Handle) Send(connID uint32, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return apperr.ArdpUnknownConnection.Error()
	}
	if c.State != StateOpen {
		return apperr.ArdpConnectionClosed.Error()
	}
	frags, err := fragmentPayload(data, int(c.segBMax))
	if err != nil {
		return err
	}

	// The window must hold the whole fragment set before any fragment goes
	// out: a partial send would leave the receiver waiting on a fragment
	// that was never queued, violating "deliver whole messages only".
	if c.outstanding()+len(frags) > int(c.peerWindow) {
		return apperr.ArdpBackpressure.Error()
	}

	for i, part := range frags {
		seq := c.nextSeq()
		seg := &segment{seq: seq, data: part, fragIndex: uint16(i + 1), fragCount: uint16(len(frags)), sentAt: time.Now()}
		c.retransmit = append(c.retransmit, seg)

		_ = h.writeSegment(c, Header{Flags: FlagACK,
			Seq: seq, Ack: c.recvNext, Window: c.recvWindow, FragIndex: seg.fragIndex, FragCount: seg.fragCount}, part)
	}

	return nil
}

// RecvReady releases ARDP's hold on a previously delivered RcvBuf. Today it
// is a no-op because buffers are copied out before delivery; it is the seam
// where a deferred-ack scheme would go.
func (h *Handle) RecvReady(buf *RcvBuf) {}

// writeSegment fills in the connection-identifying fields from c and writes
// the resulting datagram to c.Remote. hdr.SrcConnID/DstConnID are always
// derived from the connection, never passed by the caller, so a stale id can
// never leak onto the wire.
func (h *Handle) writeSegment(c *Connection, hdr Header, payload []byte) error {
	hdr.Version = Version
	hdr.SrcConnID = c.ID
	hdr.DstConnID = c.PeerConnID
	b := EncodeDatagram(hdr, payload)
	_, err := h.sock.WriteTo(b, c.Remote)
	return err
}

// HandleDatagram processes one inbound UDP datagram. It is invoked from the
// transport's socket-reader goroutine and takes the Handle lock for its
// whole body, so every protocol mutation happens under the ARDP lock.
func (h *Handle) HandleDatagram(from *net.UDPAddr, raw []byte) {
	dg, err := DecodeDatagram(raw)
	if err != nil {
		logfield.Warn("dropping malformed ARDP datagram").FieldAdd("remote", from.String()).ErrorAdd(err).Log()
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case dg.Header.Flags.Has(FlagSYN) && !dg.Header.Flags.Has(FlagACK):
		h.onSYN(from, dg)
	case dg.Header.Flags.Has(FlagSYN) && dg.Header.Flags.Has(FlagACK):
		h.onSYNACK(dg)
	case dg.Header.Flags.Has(FlagRST):
		h.onRST(dg)
	case dg.Header.Flags.Has(FlagFIN):
		h.onFIN(dg)
	case dg.Header.Flags.Has(FlagNUL):
		h.onNUL(dg)
	case dg.Header.Flags.Has(FlagEAK):
		h.onEAK(dg)
	default:
		h.onData(dg)
	}
}

func (h *Handle) onSYN(from *net.UDPAddr, dg *Datagram) {
	if h.cb.Accept == nil {
		return
	}

	id := h.allocID()
	accept, reply := h.cb.Accept(id, from, dg.Payload)
	if !accept {
		_, _ = h.sock.WriteTo(EncodeDatagram(Header{Flags: FlagRST, Version: Version,
			DstConnID: dg.Header.SrcConnID}, nil), from)
		return
	}

	c := newConnection(id, from, h.cfg)
	c.State = StateSynRcvd
	c.Active = false
	c.PeerConnID = dg.Header.SrcConnID
	c.recvNext = dg.Header.Seq + 1
	c.peerWindow = dg.Header.Window
	c.helloRemote = dg.Payload
	c.helloLocal = reply
	h.conns[id] = c

	_ = h.writeSegment(c, Header{Flags: FlagSYN | FlagACK,
		Seq: c.nextSeq(), Ack: c.recvNext, Window: c.recvWindow}, reply)
}

func (h *Handle) onSYNACK(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok || c.State != StateSynSent {
		return
	}

	c.PeerConnID = dg.Header.SrcConnID
	c.recvNext = dg.Header.Seq + 1
	c.peerWindow = dg.Header.Window
	c.helloRemote = dg.Payload
	c.State = StateOpen
	c.lastRecvAt = time.Now()

	_ = h.writeSegment(c, Header{Flags: FlagACK,
		Seq: c.nextSeq(), Ack: c.recvNext, Window: c.recvWindow}, nil)

	if h.cb.Connect != nil {
		h.cb.Connect(c.ID, false, dg.Payload, StatusOK)
	}
}

func (h *Handle) onRST(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok {
		return
	}
	h.teardown(c, StatusRemoteReset, true)
}

func (h *Handle) onFIN(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok {
		return
	}

	wasClosing := c.State == StateClosing
	// A FIN repeated after our ACK was lost is acked again but not reported
	// again: the owner hears about the close once.
	repeated := c.State == StateTimeWait || c.State == StateClosed
	c.State = StateTimeWait
	c.closingAt = time.Now()

	_ = h.writeSegment(c, Header{Flags: FlagACK,
		Seq: c.sendNext, Ack: dg.Header.Seq + 1, Window: c.recvWindow}, nil)

	if h.cb.Disconnect != nil && !repeated {
		if wasClosing {
			h.cb.Disconnect(c.ID, StatusOK)
		} else {
			h.cb.Disconnect(c.ID, StatusRemoteReset)
		}
	}
}

func (h *Handle) onNUL(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok {
		return
	}
	c.lastRecvAt = time.Now()
	c.peerWindow = dg.Header.Window
	c.probeSent = 0

	// A NUL probe demands an ack, otherwise the prober cannot tell a live
	// peer from a dead one and exhausts its probe budget.
	h.sendPureAck(c)
}

func (h *Handle) onData(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok {
		if h.cb.Recv != nil {
			// No endpoint exists for this id any more: tell the
			// owner so a lingering buffer reference is not
			// leaked.
			h.cb.Recv(&RcvBuf{ConnID: dg.Header.DstConnID}, StatusRemoteReset)
		}
		return
	}

	if c.State == StateSynRcvd && !dg.Header.Flags.Has(FlagSYN) {
		// The ACK that completes the passive handshake.
		c.State = StateOpen
		if h.cb.Connect != nil {
			h.cb.Connect(c.ID, true, c.helloRemote, StatusOK)
		}
	}

	c.lastRecvAt = time.Now()
	c.peerWindow = dg.Header.Window
	c.probeSent = 0
	if c.peerWindow > 0 {
		c.persistSent = 0
	}

	h.processAck(c, dg.Header.Ack)

	if c.State == StateClosing {
		if seqLess(c.finSeq, dg.Header.Ack) {
			// The peer's final ACK covers our FIN: graceful close done.
			c.State = StateTimeWait
			c.closingAt = time.Now()
			if h.cb.Disconnect != nil {
				h.cb.Disconnect(c.ID, StatusOK)
			}
		}
		return
	}

	if len(dg.Payload) == 0 && dg.Header.FragCount == 0 {
		// Pure ACK, nothing to reassemble or deliver.
		if h.cb.SendWindow != nil {
			h.cb.SendWindow(c.ID, c.peerWindow)
		}
		return
	}

	if seqLess(dg.Header.Seq, c.recvNext) {
		// Duplicate of data we already delivered: re-ack, do not
		// redeliver.
		h.sendPureAck(c)
		return
	}

	if dg.Header.Seq != c.recvNext {
		// Out of order: report the gap with an EAK naming the segment
		// we did see, so the sender can fast-retransmit without waiting
		// for its retry timer.
		h.sendEAK(c, dg.Header.Seq)
		return
	}

	c.recvNext++

	if c.reasm == nil {
		c.reasm = &reassembler{}
	}

	msg, err := c.reasm.addFragment(dg.Header.FragIndex, dg.Header.FragCount, dg.Payload)
	if err != nil {
		logfield.Warn("invalid fragment, dropping").FieldAdd("conn_id", c.ID).ErrorAdd(err).Log()
		return
	}

	h.sendPureAck(c)

	if msg != nil && h.cb.Recv != nil {
		h.cb.Recv(&RcvBuf{ConnID: c.ID, Data: msg, FragIndex: dg.Header.FragIndex, FragCount: dg.Header.FragCount}, StatusOK)
	}
}

func (h *Handle) sendPureAck(c *Connection) {
	_ = h.writeSegment(c, Header{Flags: FlagACK,
		Seq: c.sendNext, Ack: c.recvNext, Window: c.recvWindow}, nil)
}

// processAck applies one cumulative ack: frees covered segments (firing
// send_cb per freed buffer) and counts duplicates toward the
// fast-retransmit threshold.
func (h *Handle) processAck(c *Connection, ack uint32) {
	freed := c.ackUpTo(ack)

	if len(freed) > 0 {
		c.dupAcks = 0
		for _, seg := range freed {
			if h.cfg.AdaptiveRTO && seg.retries == 0 {
				h.updateRTT(c, time.Since(seg.sentAt))
			}
			if h.cb.Send != nil {
				h.cb.Send(c.ID, seg.data, StatusOK)
			}
		}
		return
	}

	if len(c.retransmit) == 0 {
		return
	}

	if ack == c.lastDupSeq {
		c.dupAcks++
	} else {
		c.lastDupSeq = ack
		c.dupAcks = 1
	}

	if c.dupAcks >= h.cfg.DupAckCounter {
		c.dupAcks = 0
		h.fastRetransmit(c)
	}
}

// updateRTT folds one clean (never retransmitted) ack round-trip sample into
// the connection's smoothed RTT and derives the effective retransmit timeout
// from it, floored at the tick resolution and capped at the configured
// DataTimeout. Only runs when AdaptiveRTO is enabled; otherwise rtoTimeout
// stays pinned to DataTimeout.
func (h *Handle) updateRTT(c *Connection, sample time.Duration) {
	if c.srtt == 0 {
		c.srtt = sample
	} else {
		c.srtt = (7*c.srtt + sample) / 8
	}

	rto := 2 * c.srtt
	if rto < tickResolution {
		rto = tickResolution
	}
	if rto > h.cfg.DataTimeout {
		rto = h.cfg.DataTimeout
	}
	c.rtoTimeout = rto
}

// fastRetransmit resends the earliest unacked segment immediately, without
// waiting for its retry timer, and does not consume a retry from its budget.
func (h *Handle) fastRetransmit(c *Connection) {
	if len(c.retransmit) == 0 {
		return
	}

	seg := c.retransmit[0]
	seg.sentAt = time.Now()
	_ = h.writeSegment(c, Header{Flags: FlagACK, Seq: seg.seq, Ack: c.recvNext, Window: c.recvWindow,
		FragIndex: seg.fragIndex, FragCount: seg.fragCount}, seg.data)
}

// sendEAK emits an explicit ack: cumulative ack of recv-next plus the
// sequence number of the out-of-order segment we observed, so the sender
// learns about the gap ahead of its retry timer.
func (h *Handle) sendEAK(c *Connection, outOfOrderSeq uint32) {
	_ = h.writeSegment(c, Header{Flags: FlagACK | FlagEAK,
		Seq: c.sendNext, Ack: c.recvNext, Window: c.recvWindow}, encodeEAKPayload([]uint32{outOfOrderSeq}))
}

// onEAK is the sender-side reaction to an explicit ack: apply the cumulative
// ack it carries, then retransmit the earliest unacked segment, since every
// seq listed in the payload arrived past a gap.
func (h *Handle) onEAK(dg *Datagram) {
	c, ok := h.conns[dg.Header.DstConnID]
	if !ok {
		return
	}

	c.lastRecvAt = time.Now()
	c.peerWindow = dg.Header.Window

	h.processAck(c, dg.Header.Ack)

	if seqs, err := decodeEAKPayload(dg.Payload); err == nil && len(seqs) > 0 {
		h.fastRetransmit(c)
	}
}

// teardown moves c to CLOSED immediately (used for RST and retry exhaustion)
// and fires exactly one callback: connect_cb failure while the handshake was
// still in flight, disconnect_cb otherwise. The owner learns about a lost
// connection exactly once per endpoint.
func (h *Handle) teardown(c *Connection, status Status, remote bool) {
	if c.State == StateClosed {
		return
	}
	handshaking := c.State == StateSynSent || c.State == StateSynRcvd
	c.State = StateClosed

	if handshaking {
		if h.cb.Connect != nil {
			h.cb.Connect(c.ID, !c.Active, nil, status)
		}
		return
	}

	if h.cb.Disconnect != nil {
		h.cb.Disconnect(c.ID, status)
	}
}

// Forget drops connID from the table immediately. Tick removes a connection
// on its own once its TIME-WAIT has elapsed and does not go through Forget.
func (h *Handle) Forget(connID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

func (h *Handle) StateOf(connID uint32) (ConnState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return StateClosed, false
	}
	return c.State, true
}

// RemoteAddr reports the peer address of connID, used by the dispatcher's
// ConnectHandler to construct the active-side Endpoint.
func (h *Handle) RemoteAddr(connID uint32) (*net.UDPAddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return c.Remote, true
}
