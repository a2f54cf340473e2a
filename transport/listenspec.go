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
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/meshbus/ardp/internal/apperr"
)

// ListenSpec is the parsed form of the "udp:key=value,..." transport spec
// grammar.
type ListenSpec struct {
	Addr string
	Port uint16
	GUID string
}

const listenSpecPrefix = "udp:"

// synonyms maps input keys onto their canonical form.
var synonyms = map[string]string{
	"addr": "u4addr",
	"port": "u4port",
}

// ParseListenSpec parses a "udp:key=value,..." string. Unknown r4*/r6*/u6*
// keys are rejected. "family" is accepted and ignored.
func ParseListenSpec(spec string) (*ListenSpec, error) {
	if !strings.HasPrefix(spec, listenSpecPrefix) {
		return nil, apperr.TransportBadSpec.Error()
	}

	ls := &ListenSpec{Addr: "0.0.0.0", Port: 9955}

	body := spec[len(listenSpecPrefix):]
	if body == "" {
		return ls, nil
	}

	for _, kv := range strings.Split(body, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, apperr.TransportBadSpec.Error()
		}

		if canon, known := synonyms[key]; known {
			key = canon
		}

		switch {
		case key == "u4addr":
			if net.ParseIP(value) == nil {
				return nil, apperr.TransportBadSpec.Error()
			}
			ls.Addr = value
		case key == "u4port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, apperr.TransportBadSpec.Error()
			}
			ls.Port = uint16(port)
		case key == "family":
			// accepted for compatibility, ignored.
		case key == "guid":
			ls.GUID = value
		case strings.HasPrefix(key, "r4"), strings.HasPrefix(key, "r6"), strings.HasPrefix(key, "u6"):
			return nil, apperr.TransportBadSpec.Error()
		default:
			return nil, apperr.TransportBadSpec.Error()
		}
	}

	return ls, nil
}

// String renders the canonical form: "udp:u4addr=...,u4port=..." with guid
// appended only when present, so Normalize is idempotent.
func (ls *ListenSpec) String() string {
	s := fmt.Sprintf("%su4addr=%s,u4port=%d", listenSpecPrefix, ls.Addr, ls.Port)
	if ls.GUID != "" {
		s += ",guid=" + ls.GUID
	}
	return s
}

// UDPAddr resolves the spec to a *net.UDPAddr for binding or dialing.
func (ls *ListenSpec) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ls.Addr), Port: int(ls.Port)}
}

// Normalize renders spec in canonical form. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(spec string) (string, error) {
	ls, err := ParseListenSpec(spec)
	if err != nil {
		return "", err
	}
	return ls.String(), nil
}
