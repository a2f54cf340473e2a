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

import "net"

// Status is the outcome reported on the control-plane callbacks.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusRemoteReset
	StatusLocalDisconnect
	StatusBackpressure
)

// RcvBuf is the buffer handed to the recv callback. Its Data is a copy the
// receiver owns; Handle.RecvReady is a no-op and the Endpoint does not call it.
type RcvBuf struct {
	ConnID    uint32
	Data      []byte
	FragIndex uint16
	FragCount uint16
}

// AcceptCb decides whether an inbound SYN should be admitted, and supplies
// the SYN-ACK's hello-reply payload. Fires synchronously from inside
// HandleDatagram, under the Handle's lock.
type AcceptCb func(connID uint32, remote *net.UDPAddr, hello []byte) (accept bool, reply []byte)

// ConnectCb reports handshake completion or failure for both active and
// passive sides.
type ConnectCb func(connID uint32, passive bool, helloReply []byte, status Status)

// DisconnectCb reports a connection leaving OPEN, whether locally solicited
// (StatusOK / StatusLocalDisconnect) or not.
type DisconnectCb func(connID uint32, status Status)

// RecvCb delivers a reassembled (or single-fragment) buffer.
type RecvCb func(buf *RcvBuf, status Status)

// SendCb reports the outcome of a previously queued ardp_send call.
type SendCb func(connID uint32, buf []byte, status Status)

// SendWindowCb reports a change in the peer's advertised window, used by the
// Stream to decide when to retry past BACKPRESSURE.
type SendWindowCb func(connID uint32, window uint16)

// Callbacks groups every callback the Handle's owner (Transport) registers.
// Any nil entry is simply not invoked.
type Callbacks struct {
	Accept      AcceptCb
	Connect     ConnectCb
	Disconnect  DisconnectCb
	Recv        RecvCb
	Send        SendCb
	SendWindow  SendWindowCb
}
