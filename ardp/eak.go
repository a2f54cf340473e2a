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

import (
	"encoding/binary"

	"github.com/meshbus/ardp/internal/apperr"
)

// maxEAKSeqs bounds the payload of an EAK segment. The receiver holds at most
// one reassembly in flight, so in practice a single entry is emitted per gap.
const maxEAKSeqs = 16

// encodeEAKPayload renders the out-of-order sequence numbers an EAK reports,
// each as a big-endian 32-bit value following the fixed header.
func encodeEAKPayload(seqs []uint32) []byte {
	out := make([]byte, 0, len(seqs)*4)
	for _, s := range seqs {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], s)
		out = append(out, b[:]...)
	}
	return out
}

func decodeEAKPayload(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 || len(b)/4 > maxEAKSeqs {
		return nil, apperr.ArdpInvalidHeader.Error()
	}

	out := make([]uint32, 0, len(b)/4)
	for off := 0; off < len(b); off += 4 {
		out = append(out, binary.BigEndian.Uint32(b[off:off+4]))
	}
	return out, nil
}
