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

import "time"

const tickResolution = 20 * time.Millisecond

// Tick advances every connection's retransmit/persist/probe/timewait timers
// and returns the delay until the next deadline. The caller (transport's maintenance loop) arms its
// timer event with the returned value, possibly clamped to a minimum
// resolution to avoid busy-looping.
func (h *Handle) Tick(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.cfg.ProbeTimeout
	if next <= 0 {
		next = tickResolution
	}

	for id, c := range h.conns {
		switch c.State {
		case StateOpen:
			if d := h.tickOpen(c, now); d < next {
				next = d
			}
		case StateClosing:
			if d := h.tickClosing(c, now); d < next {
				next = d
			}
		case StateSynSent, StateSynRcvd:
			if d := h.tickHandshake(c, now); d < next {
				next = d
			}
		case StateTimeWait:
			if now.Sub(c.closingAt) >= h.cfg.TimeWait {
				delete(h.conns, id)
			} else if d := h.cfg.TimeWait - now.Sub(c.closingAt); d < next {
				next = d
			}
		}
	}

	if next < tickResolution {
		next = tickResolution
	}

	return next
}

// tickOpen drives retransmission of unacked segments, zero-window persist
// probing, and idle keepalive for an OPEN connection.
func (h *Handle) tickOpen(c *Connection, now time.Time) time.Duration {
	next := h.cfg.ProbeTimeout

	if c.peerWindow == 0 {
		if d := h.cfg.PersistTimeout; now.Sub(c.lastRecvAt) >= d {
			if c.persistSent >= h.cfg.PersistRetries {
				h.teardown(c, StatusTimeout, false)
				return tickResolution
			}
			c.persistSent++
			_ = h.writeSegment(c, Header{Flags: FlagNUL, Seq: c.sendNext, Ack: c.recvNext, Window: c.recvWindow}, nil)
			c.lastRecvAt = now
		}
		if d := h.cfg.PersistTimeout; d < next {
			next = d
		}
		return next
	}

	for _, seg := range c.retransmit {
		rto := c.rtoTimeout
		if rto <= 0 {
			rto = h.cfg.DataTimeout
		}

		if now.Sub(seg.sentAt) >= rto {
			if seg.retries >= h.cfg.DataRetries {
				h.teardown(c, StatusTimeout, false)
				return tickResolution
			}
			seg.retries++
			seg.sentAt = now
			_ = h.writeSegment(c, Header{Flags: FlagACK, Seq: seg.seq, Ack: c.recvNext, Window: c.recvWindow,
				FragIndex: seg.fragIndex, FragCount: seg.fragCount}, seg.data)
		}

		if d := rto - now.Sub(seg.sentAt); d < next {
			next = d
		}
	}

	if len(c.retransmit) == 0 {
		// Idle keepalive: probe a silent link before declaring it dead.
		if d := h.cfg.ProbeTimeout; now.Sub(c.lastRecvAt) >= d {
			if c.probeSent >= h.cfg.ProbeRetries {
				h.teardown(c, StatusTimeout, false)
				return tickResolution
			}
			c.probeSent++
			_ = h.writeSegment(c, Header{Flags: FlagNUL, Seq: c.sendNext, Ack: c.recvNext, Window: c.recvWindow}, nil)
			c.lastRecvAt = now
		} else if d := h.cfg.ProbeTimeout - now.Sub(c.lastRecvAt); d < next {
			next = d
		}
	} else {
		c.probeSent = 0
	}

	return next
}

// tickClosing retransmits the FIN until the peer's final ACK arrives or the
// data-retry budget is exhausted, at which point the close completes locally
// with disconnect_cb(TIMEOUT).
func (h *Handle) tickClosing(c *Connection, now time.Time) time.Duration {
	rto := h.cfg.DataTimeout

	elapsed := now.Sub(c.closingAt)
	if elapsed < rto*time.Duration(1+c.finRetries) {
		return rto*time.Duration(1+c.finRetries) - elapsed
	}

	if c.finRetries >= h.cfg.DataRetries {
		c.State = StateTimeWait
		c.closingAt = now
		if h.cb.Disconnect != nil {
			h.cb.Disconnect(c.ID, StatusTimeout)
		}
		return h.cfg.TimeWait
	}

	c.finRetries++
	_ = h.writeSegment(c, Header{Flags: FlagFIN,
		Seq: c.finSeq, Ack: c.recvNext, Window: c.recvWindow}, nil)

	return rto
}

// tickHandshake retries the SYN (active) while waiting for SYN-ACK, bounded
// by connect_retries.
func (h *Handle) tickHandshake(c *Connection, now time.Time) time.Duration {
	if !c.Active {
		return h.cfg.ConnectTimeout
	}

	elapsed := now.Sub(c.lastRecvAt)
	if elapsed < h.cfg.ConnectTimeout {
		return h.cfg.ConnectTimeout - elapsed
	}

	if c.probeSent >= h.cfg.ConnectRetries {
		c.State = StateClosed
		if h.cb.Connect != nil {
			h.cb.Connect(c.ID, false, nil, StatusTimeout)
		}
		return tickResolution
	}

	c.probeSent++
	c.lastRecvAt = now
	_ = h.writeSegment(c, Header{Flags: FlagSYN, Window: c.recvWindow}, c.helloLocal)

	return h.cfg.ConnectTimeout
}
