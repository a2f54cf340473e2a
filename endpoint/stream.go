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
	"sync"
	"time"

	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/atomicx"
)

// ardpSender is the narrow slice of ardp.Handle the Stream needs, kept as an
// interface so this package does not import ardp's Handle concrete type and
// so tests can fake backpressure/timeout behavior cheaply.
type ardpSender interface {
	Send(connID uint32, data []byte) error
	Disconnect(connID uint32) error
}

// Stream is the per-endpoint producer-side adapter: it turns ARDP's
// non-blocking Send into a blocking PushBytes with backpressure.
type Stream struct {
	sender ardpSender
	connID uint32

	dataTimeout time.Duration
	dataRetries int

	// nudge wakes the Endpoint Manager's manage cycle; set by the owning
	// Endpoint. Called on every transition into a terminal disconnect
	// state.
	nudge func()

	// isStopping reports whether the owning Transport is winding down;
	// read-only from the Stream's point of view.
	isStopping func() bool

	threadsInside     atomicx.Counter
	outstandingWrites atomicx.Counter
	waitersCount      atomicx.Counter

	// onBackpressure, when set, is invoked each time push_bytes observes
	// BACKPRESSURE from ardp_send. Used by the owning transport for
	// instrumentation; never blocks.
	onBackpressure func()

	cbMu  sync.Mutex
	event chan struct{}

	discMu         sync.Mutex
	disconnected   bool
	localDiscSent  bool
	disconnectStat error
}

func NewStream(sender ardpSender, connID uint32, dataTimeout time.Duration, dataRetries int, isStopping func() bool, nudge func()) *Stream {
	return &Stream{
		sender:      sender,
		connID:      connID,
		dataTimeout: dataTimeout,
		dataRetries: dataRetries,
		isStopping:  isStopping,
		nudge:       nudge,
		event:       make(chan struct{}),
	}
}

// SetBackpressureHook registers an instrumentation callback fired on every
// BACKPRESSURE observation. Must be set before the endpoint starts.
func (s *Stream) SetBackpressureHook(fn func()) { s.onBackpressure = fn }

func (s *Stream) OutstandingWrites() int32 { return s.outstandingWrites.Load() }
func (s *Stream) ThreadsInside() int32     { return s.threadsInside.Load() }

func (s *Stream) IsDisconnected() bool {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	return s.disconnected
}

// PushBytes registers the calling goroutine in threadsInside for the call's
// duration, retries the protocol send
// across BACKPRESSURE until the deadline, and fails with TIMEOUT or the
// stored disconnect reason otherwise.
func (s *Stream) PushBytes(buf []byte) (int, error) {
	s.threadsInside.Inc()
	defer s.threadsInside.Dec()

	if s.isStopping != nil && s.isStopping() {
		return 0, apperr.EndpointStopping.Error()
	}
	if s.IsDisconnected() {
		return 0, s.discReason()
	}

	deadline := time.Now().Add(s.dataTimeout * time.Duration(2+s.dataRetries))

	for {
		if time.Now().After(deadline) {
			return 0, apperr.EndpointTimeout.Error()
		}

		err := s.sender.Send(s.connID, buf)
		if err == nil {
			s.outstandingWrites.Inc()
			return len(buf), nil
		}

		if !isBackpressure(err) {
			return 0, err
		}

		if s.onBackpressure != nil {
			s.onBackpressure()
		}

		if discErr := s.waitForRoom(deadline); discErr != nil {
			return 0, discErr
		}
	}
}

// waitForRoom blocks on the backpressure event. It returns nil once woken (or immediately, if no outstanding write
// remains to trigger a future send_cb), and the disconnect reason once the
// stream disconnects while waiting.
func (s *Stream) waitForRoom(deadline time.Time) error {
	s.cbMu.Lock()

	if s.outstandingWrites.Load() == 0 {
		// No send_cb is coming to relieve us: loop immediately and
		// reattempt ardp_send.
		s.cbMu.Unlock()
		return nil
	}

	s.waitersCount.Inc()
	ch := s.event
	s.cbMu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	}

	s.waitersCount.Dec()

	if s.IsDisconnected() {
		return s.discReason()
	}

	return nil
}

func (s *Stream) discReason() error {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	if s.disconnectStat != nil {
		return s.disconnectStat
	}
	return apperr.EndpointDisconnected.Error()
}

func isBackpressure(err error) bool {
	return apperr.Is(err, apperr.ArdpBackpressure)
}

// SendCb completes one write: the buffer ARDP lent us is
// freed (nothing to do explicitly in Go, the slice is simply dropped) and any
// thread waiting on the backpressure event is woken.
func (s *Stream) SendCb(status error) {
	s.outstandingWrites.Dec()
	s.wake()
}

func (s *Stream) wake() {
	s.cbMu.Lock()
	old := s.event
	s.event = make(chan struct{})
	s.cbMu.Unlock()
	close(old)
}

// Disconnect drives the three-boolean disconnect state machine: idempotent,
// first reason wins, across concurrent local and remote initiators.
func (s *Stream) Disconnect(sudden bool, status error) {
	s.discMu.Lock()

	if s.disconnected {
		s.discMu.Unlock()
		return
	}

	switch {
	case !sudden && !s.localDiscSent:
		s.localDiscSent = true
		if err := s.sender.Disconnect(s.connID); err != nil {
			// The call itself failed: treat as already disconnected
			// with that failure status.
			s.disconnected = true
			s.disconnectStat = err
		}
	case !sudden && s.localDiscSent:
		s.disconnected = true
	case sudden:
		s.disconnected = true
		if s.disconnectStat == nil {
			s.disconnectStat = status
		}
	}

	terminal := s.disconnected
	s.discMu.Unlock()

	if terminal {
		s.wake()
		if s.nudge != nil {
			s.nudge()
		}
	}
}
