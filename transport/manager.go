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
	"time"

	"github.com/meshbus/ardp/dispatcher"
	"github.com/meshbus/ardp/endpoint"
	"github.com/meshbus/ardp/internal/logfield"
)

// DefaultManageInterval is the period between manage cycles when nothing
// nudges the manager sooner.
const DefaultManageInterval = 1000 * time.Millisecond

// manager runs the endpoint manage cycle. It holds no state of its own
// beyond its collaborators; every cycle re-derives its work from the tables.
type manager struct {
	tables      *tables
	dispatch    *dispatcher.Dispatcher
	authTimeout time.Duration
	stallAfter  time.Duration
}

// runCycle performs one manage cycle and reports whether any state changed,
// so the caller can re-arm its timer for immediate re-entry.
func (m *manager) runCycle(now time.Time) bool {
	changed := false

	if moved := m.tables.drainPreToAuth(); len(moved) > 0 {
		changed = true
	}

	for _, ep := range m.tables.stalledAuth(now, m.authTimeout) {
		logfield.Warn("authentication stalled, reaping").FieldAdd("conn_id", ep.ConnID).Log()
		m.tables.resolvePending(ep.ConnID, connectOutcome{err: errAuthTimeout})
		ep.Stop()
		changed = true
	}

	for _, ep := range m.tables.activeSnapshot() {
		switch ep.State() {
		case endpoint.Stopping, endpoint.Joined:
			if m.advanceStopping(ep, now) {
				changed = true
			}
		case endpoint.Done, endpoint.Failed:
			if ep.Exited() {
				m.tables.removeActive(ep.ConnID)
				changed = true
			}
		}
	}

	return changed
}

// advanceStopping joins the endpoint once quiescent and schedules its router
// detach on the dispatcher, since detaching may call back through the
// router.
func (m *manager) advanceStopping(ep *endpoint.Endpoint, now time.Time) bool {
	if !ep.Join() {
		if m.stallAfter > 0 && now.Sub(ep.StoppedAt) > m.stallAfter {
			logfield.Warn("endpoint stop stalled, awaiting ARDP timewait").FieldAdd("conn_id", ep.ConnID).Log()
		}
		return false
	}

	m.dispatch.Enqueue(dispatcher.Entry{Kind: dispatcher.KindExit, ConnID: ep.ConnID})
	return true
}
