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

// Package dispatcher is the single-threaded callback trampoline: every ARDP
// callback crosses it so that no call into the router (or
// back into the Transport/Endpoint layer) ever runs with the ARDP lock held.
package dispatcher

import "github.com/meshbus/ardp/ardp"

// Kind tags a workqueue Entry: Exit, ConnectCb, DisconnectCb, RecvCb or
// SendCb.
type Kind uint8

const (
	KindExit Kind = iota
	KindConnectCb
	KindDisconnectCb
	KindRecvCb
	KindSendCb
)

// Entry is one queued callback, carrying only what its Kind needs.
type Entry struct {
	Kind   Kind
	ConnID uint32

	// ConnectCb payload.
	Passive    bool
	Success    bool
	HelloReply []byte

	// DisconnectCb / SendCb / RecvCb payload.
	Status ardp.Status
	Buf    []byte
	Rcv    *ardp.RcvBuf
}
