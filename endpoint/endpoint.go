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

package endpoint

import (
	"net"
	"time"

	"github.com/meshbus/ardp/ardp"
	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/atomicx"
	"github.com/meshbus/ardp/internal/logfield"
)

// Features carries the capabilities a peer announces in its hello: bus-to-bus,
// allow-remote, protocol version and name-transfer mode.
type Features struct {
	BusToBus     bool
	AllowRemote  bool
	ProtoVersion uint16
	NameTransfer string
}

// Router is the set of up-calls an Endpoint makes into the out-of-scope
// message bus router collaborator.
type Router interface {
	RegisterEndpoint(ep *Endpoint) error
	UnregisterEndpoint(ep *Endpoint)
	PushMessage(msg []byte, ep *Endpoint)
	ConnectionLost(ep *Endpoint)
}

// Endpoint represents one reliable bidirectional connection to a remote
// peer.
type Endpoint struct {
	ConnID     uint32
	Active     bool
	RemoteAddr *net.UDPAddr
	RemoteGUID string
	Features   Features
	UniqueName string

	StartedAt time.Time
	StoppedAt time.Time

	router Router
	sender ardpSender
	Stream *Stream

	state    atomicx.Value[State]
	refCount atomicx.Counter
	exited   atomicx.Bool
}

// New constructs an INITIALIZED endpoint. The caller (Transport) still owns
// placing it on the pre/auth/active tables.
func New(connID uint32, active bool, remote *net.UDPAddr, router Router, sender ardpSender, dataTimeout time.Duration, dataRetries int, nudge func(), isStopping func() bool) *Endpoint {
	e := &Endpoint{
		ConnID:     connID,
		Active:     active,
		RemoteAddr: remote,
		router:     router,
		sender:     sender,
	}
	e.state.Store(Initialized)
	e.Stream = NewStream(sender, connID, dataTimeout, dataRetries, isStopping, nudge)
	return e
}

func (e *Endpoint) State() State { return e.state.Load() }

func (e *Endpoint) setState(s State) { e.state.Store(s) }

func (e *Endpoint) AddRef() int32   { return e.refCount.Inc() }
func (e *Endpoint) Release() int32  { return e.refCount.Dec() }
func (e *Endpoint) RefCount() int32 { return e.refCount.Load() }

// Start transitions INITIALIZED -> STARTING -> STARTED and registers with
// the router.
func (e *Endpoint) Start() error {
	e.setState(Starting)
	e.StartedAt = time.Now()

	if e.router != nil {
		if err := e.router.RegisterEndpoint(e); err != nil {
			e.setState(Failed)
			return err
		}
	}

	e.setState(Started)
	return nil
}

// Stop is advisory: it moves
// the state to STOPPING, issues ardp_disconnect via the Stream, and never
// blocks.
func (e *Endpoint) Stop() {
	switch e.State() {
	case Stopping, Joined, Done, Failed:
		return
	}

	e.setState(Stopping)
	e.StoppedAt = time.Now()
	e.Stream.Disconnect(false, nil)
}

// Join reports whether it is safe to advance STOPPING/JOINED endpoints: no
// producer thread remains inside push_bytes and the stream has finished
// disconnecting. It is idempotent.
func (e *Endpoint) Join() bool {
	if e.Stream.ThreadsInside() > 0 || !e.Stream.IsDisconnected() {
		return false
	}

	if e.State() == Stopping {
		e.setState(Joined)
	}

	return true
}

// Exit is the dispatcher-scheduled detach from the router. It is idempotent.
func (e *Endpoint) Exit() {
	if e.exited.Swap(true) {
		return
	}

	if e.router != nil {
		e.router.UnregisterEndpoint(e)
	}

	e.setState(Done)
}

func (e *Endpoint) Exited() bool { return e.exited.Load() }

// PushMessage is the router's send entry point: requires STARTED,
// clones the message (multiple endpoints may deliver the same logical
// message) and forwards to the Stream.
func (e *Endpoint) PushMessage(msg []byte) (int, error) {
	if e.State() != Started {
		return 0, apperr.EndpointWrongState.Error()
	}

	clone := make([]byte, len(msg))
	copy(clone, msg)

	return e.Stream.PushBytes(clone)
}

// RecvCb delivers one reassembled inbound message; called on the dispatcher.
func (e *Endpoint) RecvCb(buf *ardp.RcvBuf, status ardp.Status) {
	if s := e.State(); s != Starting && s != Started {
		return
	}

	if buf == nil || buf.Data == nil {
		return
	}

	if buf.FragCount > ardp.MaxFragments {
		logfield.Warn("invalid frag_count, dropping").FieldAdd("conn_id", e.ConnID).FieldAdd("frag_count", buf.FragCount).Log()
		return
	}

	if e.router != nil {
		e.router.PushMessage(buf.Data, e)
	}
}

// SendCb completes one outbound write: delegates to the Stream, which
// frees the buffer and wakes backpressure waiters.
func (e *Endpoint) SendCb(connID uint32, buf []byte, status ardp.Status) {
	var err error
	if status != ardp.StatusOK {
		err = apperr.EndpointDisconnected.Error()
	}
	e.Stream.SendCb(err)
}

// DisconnectCb handles the connection leaving OPEN: classifies the
// callback as solicited/unsolicited, forwards to Stream.disconnect, advances
// our own state machine, and tells the bus-level listener once.
func (e *Endpoint) DisconnectCb(status ardp.Status) {
	sudden := status != ardp.StatusOK

	var reason error
	if sudden {
		reason = apperr.EndpointDisconnected.Error()
	}

	e.Stream.Disconnect(sudden, reason)
	e.Stop()

	if e.router != nil {
		e.router.ConnectionLost(e)
	}
}
