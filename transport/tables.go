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

package transport

import (
	"sync"
	"time"

	"github.com/meshbus/ardp/endpoint"
)

// pendingJoin pairs a synchronous Connect caller with the nascent ARDP
// connection id it is waiting on. The channel plays the role of a
// stack-local event; it is buffered by one so the dispatcher never blocks
// delivering the outcome.
type pendingJoin struct {
	result chan connectOutcome
}

type connectOutcome struct {
	ep  *endpoint.Endpoint
	err error
}

// tables holds the Transport's three endpoint tables and the pending-join set
// under one lock, the endpoint-list lock of the lock-order discipline
// (acquired first, before the ARDP lock).
type tables struct {
	mu sync.Mutex

	pre    map[uint32]*endpoint.Endpoint
	auth   map[uint32]*endpoint.Endpoint
	active map[uint32]*endpoint.Endpoint

	pending map[uint32]*pendingJoin
}

func newTables() *tables {
	return &tables{
		pre:     make(map[uint32]*endpoint.Endpoint),
		auth:    make(map[uint32]*endpoint.Endpoint),
		active:  make(map[uint32]*endpoint.Endpoint),
		pending: make(map[uint32]*pendingJoin),
	}
}

// putPre inserts ep on the pre table without taking the list lock, for use
// from inside the ARDP accept callback, which already holds the ARDP lock
// and must not take the list lock after it.
func (t *tables) putPre(ep *endpoint.Endpoint) {
	t.mu.Lock()
	t.pre[ep.ConnID] = ep
	t.mu.Unlock()
}

func (t *tables) putActive(ep *endpoint.Endpoint) {
	t.mu.Lock()
	t.active[ep.ConnID] = ep
	t.mu.Unlock()
}

// lookupActive resolves a connection id to its endpoint on the active table,
// taking and releasing the list lock internally. Transport.lookupSink wraps
// it as the dispatcher's Lookup.
func (t *tables) lookupActive(connID uint32) (*endpoint.Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.active[connID]
	return ep, ok
}

func (t *tables) lookupAuth(connID uint32) (*endpoint.Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.auth[connID]
	return ep, ok
}

// drainPreToAuth moves every endpoint queued by an ARDP callback onto auth,
// the first step of each manage cycle.
func (t *tables) drainPreToAuth() []*endpoint.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	moved := make([]*endpoint.Endpoint, 0, len(t.pre))
	for id, ep := range t.pre {
		t.auth[id] = ep
		moved = append(moved, ep)
		delete(t.pre, id)
	}
	return moved
}

// stalledAuth returns every auth-table endpoint whose authentication has run
// longer than authTimeout, moving each to active as it is found.
func (t *tables) stalledAuth(now time.Time, authTimeout time.Duration) []*endpoint.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stalled []*endpoint.Endpoint
	for id, ep := range t.auth {
		if now.Sub(ep.StartedAt) <= authTimeout {
			continue
		}
		delete(t.auth, id)
		t.active[id] = ep
		stalled = append(stalled, ep)
	}
	return stalled
}

// activeSnapshot returns a stable copy of the active table for iteration
// without holding the list lock across endpoint method calls.
func (t *tables) activeSnapshot() []*endpoint.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*endpoint.Endpoint, 0, len(t.active))
	for _, ep := range t.active {
		out = append(out, ep)
	}
	return out
}

// takePreOrAuth removes connID from whichever of pre/auth it is currently on
// (the ConnectCb passive-side handler may race the manager's drain step, so
// both tables must be checked) and returns it.
func (t *tables) takePreOrAuth(connID uint32) (*endpoint.Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ep, ok := t.pre[connID]; ok {
		delete(t.pre, connID)
		return ep, true
	}
	if ep, ok := t.auth[connID]; ok {
		delete(t.auth, connID)
		return ep, true
	}
	return nil, false
}

func (t *tables) removeActive(connID uint32) {
	t.mu.Lock()
	delete(t.active, connID)
	t.mu.Unlock()
}

func (t *tables) counts() (pre, auth, active int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pre), len(t.auth), len(t.active)
}

func (t *tables) addPending(connID uint32) *pendingJoin {
	pj := &pendingJoin{result: make(chan connectOutcome, 1)}
	t.mu.Lock()
	t.pending[connID] = pj
	t.mu.Unlock()
	return pj
}

func (t *tables) resolvePending(connID uint32, outcome connectOutcome) bool {
	t.mu.Lock()
	pj, ok := t.pending[connID]
	if ok {
		delete(t.pending, connID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	pj.result <- outcome
	return true
}

func (t *tables) removePending(connID uint32) {
	t.mu.Lock()
	delete(t.pending, connID)
	t.mu.Unlock()
}
