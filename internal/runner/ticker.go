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

package runner

import (
	"sync"
	"time"
)

// NudgeableTimer is a resettable one-shot timer used for the maintenance
// loop's manage and protocol timers: each protocol tick rearms it to the
// delay the protocol reports, and the endpoint manager can nudge it to fire
// immediately after a state change.
type NudgeableTimer struct {
	mu sync.Mutex
	t  *time.Timer
	c  chan time.Time
}

func NewNudgeableTimer(initial time.Duration) *NudgeableTimer {
	n := &NudgeableTimer{c: make(chan time.Time, 1)}
	n.t = time.AfterFunc(initial, n.fire)
	return n
}

func (n *NudgeableTimer) fire() {
	select {
	case n.c <- time.Now():
	default:
	}
}

// C is the channel to select on; it is fed at most one pending tick.
func (n *NudgeableTimer) C() <-chan time.Time {
	return n.c
}

// Reset rearms the timer for d from now, replacing any pending deadline.
func (n *NudgeableTimer) Reset(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.t.Stop() {
		select {
		case <-n.t.C:
		default:
		}
	}
	n.t.Reset(d)
}

// Nudge arranges for an immediate fire, used when the endpoint manager made
// a state change and wants to re-enter on the next loop iteration.
func (n *NudgeableTimer) Nudge() {
	n.Reset(0)
}

func (n *NudgeableTimer) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.t.Stop()
}
