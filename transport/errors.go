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

import "github.com/meshbus/ardp/internal/apperr"

// errAuthTimeout wakes a Connect caller whose peer stalled mid-handshake.
var errAuthTimeout = apperr.TransportConnectTimeout.Error()

// IsConnectTimeout reports whether err is the deadline-expiry outcome of
// Transport.Connect.
func IsConnectTimeout(err error) bool {
	return apperr.Is(err, apperr.TransportConnectTimeout)
}

// IsRejected reports whether err is the admission-control refusal raised
// when connection limits would be exceeded.
func IsRejected(err error) bool {
	return apperr.Is(err, apperr.TransportConnRejected)
}

// IsAlreadyListening reports whether err is the self-connect refusal.
func IsAlreadyListening(err error) bool {
	return apperr.Is(err, apperr.TransportSelfConnect)
}

// IsNoNetwork reports whether err is the no-matching-subnet refusal.
func IsNoNetwork(err error) bool {
	return apperr.Is(err, apperr.TransportNoNetwork)
}

// IsNotStarted reports whether err reflects a public API call made before
// Start or after Join.
func IsNotStarted(err error) bool {
	return apperr.Is(err, apperr.TransportNotStarted)
}
