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

import "github.com/meshbus/ardp/internal/apperr"

// MaxFragments is the hard cap on fragments per message: a connection keeps
// reassembly state for a single in-flight message of at most 3 fragments.
const MaxFragments = 3

// reassembler holds the fragments of a single in-flight inbound message. Only
// one message may be in flight at a time per connection: the protocol does
// not interleave fragments of different messages.
type reassembler struct {
	fragCount uint16
	have      int
	parts     [MaxFragments][]byte
}

// addFragment stores one fragment and returns the reassembled message once
// every fragment in fragCount has arrived, or nil while still incomplete.
func (r *reassembler) addFragment(fragIndex, fragCount uint16, data []byte) ([]byte, error) {
	if fragCount < 1 || fragCount > MaxFragments || fragIndex < 1 || fragIndex > fragCount {
		return nil, apperr.ArdpFragmentInvalid.Error()
	}

	if r.fragCount != 0 && r.fragCount != fragCount {
		// A new message started without finishing the previous one:
		// reset and track the new one, matching "deliver whole
		// messages only" rather than corrupting old fragments.
		*r = reassembler{}
	}

	idx := int(fragIndex) - 1
	if r.parts[idx] == nil {
		r.have++
	}
	r.parts[idx] = data
	r.fragCount = fragCount

	if r.have < int(fragCount) {
		return nil, nil
	}

	total := 0
	for i := 0; i < int(fragCount); i++ {
		total += len(r.parts[i])
	}

	out := make([]byte, 0, total)
	for i := 0; i < int(fragCount); i++ {
		out = append(out, r.parts[i]...)
	}

	*r = reassembler{}
	return out, nil
}

// fragmentPayload splits data into up to MaxFragments pieces no larger than
// maxPerFrag bytes each, returning the pieces in order (piece i carries
// fragment index i+1).
func fragmentPayload(data []byte, maxPerFrag int) ([][]byte, error) {
	if maxPerFrag <= 0 {
		maxPerFrag = 1
	}

	n := (len(data) + maxPerFrag - 1) / maxPerFrag
	if n == 0 {
		n = 1
	}
	if n > MaxFragments {
		return nil, apperr.ArdpFragmentInvalid.Error()
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * maxPerFrag
		end := start + maxPerFrag
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end])
	}

	return out, nil
}
