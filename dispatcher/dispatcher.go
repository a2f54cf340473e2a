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

package dispatcher

import (
	"context"
	"sync"

	"github.com/meshbus/ardp/ardp"
	"github.com/meshbus/ardp/internal/logfield"
	"github.com/meshbus/ardp/internal/runner"
)

// Sink is the subset of Endpoint methods the Dispatcher calls into, kept
// narrow so this package does not import endpoint (endpoint, in turn, does
// not import dispatcher).
type Sink interface {
	RecvCb(buf *ardp.RcvBuf, status ardp.Status)
	SendCb(connID uint32, buf []byte, status ardp.Status)
	DisconnectCb(status ardp.Status)
	Exit()
}

// Lookup resolves a connection id to its endpoint's Sink, taking and
// releasing the endpoint-list lock itself.
type Lookup func(connID uint32) (Sink, bool)

// ConnectHandler processes a ConnectCb entry. It alone may create or mark
// endpoints for teardown, since "no endpoint lookup" applies only to this
// entry kind.
type ConnectHandler func(e Entry)

// Dispatcher is the single worker goroutine draining the callback queue.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []Entry
	signal chan struct{}

	lookup  Lookup
	connect ConnectHandler

	run runner.Runner
}

func New(lookup Lookup, connect ConnectHandler) *Dispatcher {
	d := &Dispatcher{
		signal:  make(chan struct{}, 1),
		lookup:  lookup,
		connect: connect,
	}
	d.run = runner.New(d.loop, nil)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) error {
	return d.run.Start(ctx)
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.run.Stop(ctx)
}

// Enqueue appends an entry and wakes the worker. Safe to call from inside
// Handle.HandleDatagram/Tick, i.e. under the ARDP lock: Enqueue itself never
// blocks and never calls back into the router or ARDP.
func (d *Dispatcher) Enqueue(e Entry) {
	d.mu.Lock()
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) drain() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil
	}

	out := d.queue
	d.queue = nil
	return out
}

func (d *Dispatcher) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.signal:
		}

		for _, e := range d.drain() {
			d.process(e)
		}
	}
}

func (d *Dispatcher) process(e Entry) {
	switch e.Kind {
	case KindConnectCb:
		if d.connect != nil {
			d.connect(e)
		}
		return
	case KindExit:
		if sink, ok := d.lookup(e.ConnID); ok {
			sink.Exit()
		}
		return
	}

	sink, ok := d.lookup(e.ConnID)
	if !ok {
		if e.Kind == KindRecvCb {
			logfield.Debug("recv_cb for unknown endpoint, buffer dropped").FieldAdd("conn_id", e.ConnID).Log()
		}
		return
	}

	switch e.Kind {
	case KindDisconnectCb:
		sink.DisconnectCb(e.Status)
	case KindRecvCb:
		sink.RecvCb(e.Rcv, e.Status)
	case KindSendCb:
		sink.SendCb(e.ConnID, e.Buf, e.Status)
	}
}
