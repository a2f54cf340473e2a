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
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-uuid"

	"github.com/meshbus/ardp/endpoint"
	"github.com/meshbus/ardp/internal/apperr"
)

// Hello is the application payload carried on SYN (active to passive) and
// SYN-ACK (the reply). The protocol treats it as
// opaque bytes; this codec is the bus-level convention both daemons share so
// the dispatcher can fill the endpoint's remote GUID, features and unique
// name from the handshake.
type Hello struct {
	GUID         string `cbor:"1,keyasint"`
	UniqueName   string `cbor:"2,keyasint"`
	BusToBus     bool   `cbor:"3,keyasint"`
	AllowRemote  bool   `cbor:"4,keyasint"`
	ProtoVersion uint16 `cbor:"5,keyasint"`
	NameTransfer string `cbor:"6,keyasint,omitempty"`
}

// NewLocalHello builds this daemon's own hello with a freshly generated GUID.
func NewLocalHello(uniqueName string, busToBus bool) (Hello, error) {
	guid, err := uuid.GenerateUUID()
	if err != nil {
		return Hello{}, err
	}

	return Hello{
		GUID:         guid,
		UniqueName:   uniqueName,
		BusToBus:     busToBus,
		ProtoVersion: 1,
	}, nil
}

func (h Hello) Encode() ([]byte, error) {
	b, err := cbor.Marshal(h)
	if err != nil {
		return nil, apperr.TransportBadSpec.Error(err)
	}
	return b, nil
}

func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if err := cbor.Unmarshal(b, &h); err != nil {
		return Hello{}, apperr.TransportBadSpec.Error(err)
	}
	return h, nil
}

// applyHello copies the peer's handshake identity onto a freshly constructed
// endpoint. A payload that does not decode is tolerated: hello is opaque to
// the protocol, and a peer speaking another bus convention still gets a
// functional connection, just an anonymous one.
func applyHello(ep *endpoint.Endpoint, payload []byte) {
	h, err := DecodeHello(payload)
	if err != nil {
		return
	}

	ep.RemoteGUID = h.GUID
	ep.UniqueName = h.UniqueName
	ep.Features = endpoint.Features{
		BusToBus:     h.BusToBus,
		AllowRemote:  h.AllowRemote,
		ProtoVersion: h.ProtoVersion,
		NameTransfer: h.NameTransfer,
	}
}
