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

// Config holds the handle-wide ARDP tunables. The protocol specifies its
// defaults in milliseconds; they are carried here as durations.
type Config struct {
	ConnectTimeout time.Duration
	ConnectRetries int

	DataTimeout time.Duration
	DataRetries int

	PersistTimeout time.Duration
	PersistRetries int

	ProbeTimeout time.Duration
	ProbeRetries int

	DupAckCounter int

	TimeWait time.Duration

	// SegBMax is the per-fragment payload size ceiling. Each connection
	// copies it from the local Config; it is not exchanged with the peer
	// during the handshake. Must leave room for HeaderSize within one UDP
	// datagram under the interface MTU.
	SegBMax uint16

	// AdaptiveRTO enables smoothed-RTT retransmit backoff instead of the
	// fixed DataTimeout. Off by default.
	AdaptiveRTO bool
}

// DefaultConfig returns the protocol's standard tunables.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3000 * time.Millisecond,
		ConnectRetries: 3,
		DataTimeout:    3000 * time.Millisecond,
		DataRetries:    5,
		PersistTimeout: 5000 * time.Millisecond,
		PersistRetries: 5,
		ProbeTimeout:   10000 * time.Millisecond,
		ProbeRetries:   5,
		DupAckCounter:  1,
		TimeWait:       1000 * time.Millisecond,
		SegBMax:        1460,
		AdaptiveRTO:    false,
	}
}

// ConnectDeadline bounds a synchronous connect: the handshake may burn the
// full retry budget plus slack before the caller gives up.
func (c Config) ConnectDeadline() time.Duration {
	return c.ConnectTimeout * time.Duration(2+c.ConnectRetries)
}

// DataDeadline bounds a blocking send the same way.
func (c Config) DataDeadline() time.Duration {
	return c.DataTimeout * time.Duration(2+c.DataRetries)
}
