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

package ardp

import (
	"net"
	"time"
)

// ConnState is the per-connection protocol state, TCP-shaped but carried
// over UDP datagrams.
type ConnState uint8

const (
	StateClosed ConnState = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateOpen
	StateClosing
	StateTimeWait
)

func (s ConnState) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynRcvd:
		return "SYN-RCVD"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "CLOSED"
	}
}

// segment is one outstanding (unacked) data segment in the retransmission
// queue.
type segment struct {
	seq       uint32
	data      []byte
	fragIndex uint16
	fragCount uint16
	sentAt    time.Time
	retries   int
}

// Connection is the per-peer reliability state. It is owned exclusively by the Handle's connection table and
// must only be mutated under the Handle's lock, from HandleDatagram, Tick
// or the Handle's API calls.
type Connection struct {
	ID         uint32
	PeerConnID uint32 // the peer's own connection id, learned during the handshake
	Remote     *net.UDPAddr
	State      ConnState
	Active     bool // true if we issued the SYN (role for self-connect bookkeeping)

	sendNext    uint32
	sendUnacked uint32
	recvNext    uint32

	recvWindow uint16 // our advertised window, in segments
	peerWindow uint16 // last window the peer advertised to us

	retransmit []*segment
	dupAcks    int
	lastDupSeq uint32

	reasm *reassembler

	lastRecvAt time.Time
	probeSent  int
	persistSent int

	closingAt  time.Time // set on entering CLOSING, used for TIME-WAIT expiry
	finSeq     uint32    // sequence number consumed by our FIN, valid in CLOSING
	finRetries int

	helloLocal  []byte
	helloRemote []byte

	segBMax uint16

	rtoTimeout time.Duration // effective retransmit timeout (fixed or smoothed)
	srtt       time.Duration
}

func newConnection(id uint32, remote *net.UDPAddr, cfg Config) *Connection {
	return &Connection{
		ID:         id,
		Remote:     remote,
		State:      StateClosed,
		recvWindow: 32,
		peerWindow: 1,
		segBMax:    cfg.SegBMax,
		rtoTimeout: cfg.DataTimeout,
		lastRecvAt: time.Now(),
	}
}

// outstanding returns the number of unacked segments currently in flight.
func (c *Connection) outstanding() int {
	return len(c.retransmit)
}

// canSend reports whether the peer's advertised window still has room for
// one more outstanding segment.
func (c *Connection) canSend() bool {
	return uint32(c.outstanding()) < uint32(c.peerWindow)
}

func (c *Connection) nextSeq() uint32 {
	s := c.sendNext
	c.sendNext++
	return s
}

// ackUpTo removes every retransmission-queue entry with seq < ack (cumulative
// ack semantics) and returns the freed segments, so the caller can fire
// send_cb for each.
func (c *Connection) ackUpTo(ack uint32) []*segment {
	freed := make([]*segment, 0, len(c.retransmit))
	remaining := c.retransmit[:0]

	for _, s := range c.retransmit {
		if seqLess(s.seq, ack) {
			freed = append(freed, s)
		} else {
			remaining = append(remaining, s)
		}
	}

	c.retransmit = remaining
	if len(freed) > 0 {
		c.sendUnacked = ack
	}

	return freed
}

// seqLess compares two 32-bit sequence numbers with wraparound, as TCP does.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
