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

// Flag is one bit of the ARDP header flag byte.
type Flag uint8

const (
	FlagSYN Flag = 1 << iota
	FlagACK
	FlagEAK
	FlagRST
	FlagNUL
	FlagFIN
)

func (f Flag) Has(bit Flag) bool {
	return f&bit != 0
}

// HeaderSize is the fixed wire size of a Header in bytes: version (1), flags
// (1), data length (2), window (2), seq (4), ack (4), source and destination
// connection ids (4 each), fragment index (2) and fragment count (2), laid
// out explicitly in encode/decode rather than via a packed C struct, since
// Go gives us no portable equivalent of bitfields.
const HeaderSize = 1 /*version*/ + 1 /*flags*/ + 2 /*data length*/ + 2 /*window*/ +
	4 /*seq*/ + 4 /*ack*/ + 4 /*src conn id*/ + 4 /*dst conn id*/ + 2 /*frag index*/ + 2 /*frag count*/

const Version = 1

// Header is the fixed ARDP header carried by every UDP datagram. An EAK
// sequence list, when FlagEAK is set, follows immediately
// after the fixed header and is not counted in HeaderSize.
type Header struct {
	Version    uint8
	Flags      Flag
	DataLength uint16
	Window     uint16
	Seq        uint32
	Ack        uint32
	SrcConnID  uint32
	DstConnID  uint32
	FragIndex  uint16
	FragCount  uint16
}

func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.Version
	b[1] = byte(h.Flags)
	binary.BigEndian.PutUint16(b[2:4], h.DataLength)
	binary.BigEndian.PutUint16(b[4:6], h.Window)
	binary.BigEndian.PutUint32(b[6:10], h.Seq)
	binary.BigEndian.PutUint32(b[10:14], h.Ack)
	binary.BigEndian.PutUint32(b[14:18], h.SrcConnID)
	binary.BigEndian.PutUint32(b[18:22], h.DstConnID)
	binary.BigEndian.PutUint16(b[22:24], h.FragIndex)
	binary.BigEndian.PutUint16(b[24:26], h.FragCount)
	return b
}

func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, apperr.ArdpInvalidHeader.Error()
	}

	h := &Header{
		Version:    b[0],
		Flags:      Flag(b[1]),
		DataLength: binary.BigEndian.Uint16(b[2:4]),
		Window:     binary.BigEndian.Uint16(b[4:6]),
		Seq:        binary.BigEndian.Uint32(b[6:10]),
		Ack:        binary.BigEndian.Uint32(b[10:14]),
		SrcConnID:  binary.BigEndian.Uint32(b[14:18]),
		DstConnID:  binary.BigEndian.Uint32(b[18:22]),
		FragIndex:  binary.BigEndian.Uint16(b[22:24]),
		FragCount:  binary.BigEndian.Uint16(b[24:26]),
	}

	if h.Version != Version {
		return nil, apperr.ArdpInvalidHeader.Error()
	}

	return h, nil
}

// Datagram is a decoded header plus its payload slice (hello bytes, user
// data fragment, or empty for pure control segments).
type Datagram struct {
	Header  Header
	Payload []byte
}

func EncodeDatagram(h Header, payload []byte) []byte {
	h.DataLength = uint16(len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Encode()...)
	out = append(out, payload...)
	return out
}

func DecodeDatagram(b []byte) (*Datagram, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}

	payload := b[HeaderSize:]
	if int(h.DataLength) > len(payload) {
		return nil, apperr.ArdpInvalidHeader.Error()
	}

	return &Datagram{Header: *h, Payload: payload[:h.DataLength]}, nil
}
