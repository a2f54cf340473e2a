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

// Package apperr provides the error taxonomy shared by every package of this
// module: a numeric CodeError similar in spirit to an HTTP status, carrying an
// optional parent chain and the call-site that raised it.
package apperr

// Each package of the module reserves a range of 100 codes so code values
// never collide when an error crosses a package boundary.
const (
	MinPkgArdp       = 100
	MinPkgDispatcher = 200
	MinPkgEndpoint   = 300
	MinPkgTransport  = 400
	MinPkgConfig     = 500

	MinAvailable = 1000
)

const UnknownError CodeError = 0

// ARDP (100-199): protocol-level codes.
const (
	ArdpBackpressure CodeError = MinPkgArdp + iota
	ArdpInvalidHeader
	ArdpUnknownConnection
	ArdpConnectionClosed
	ArdpRetryExhausted
	ArdpFragmentInvalid
	ArdpWindowExceeded
)

// Dispatcher (200-299).
const (
	DispatcherQueueClosed CodeError = MinPkgDispatcher + iota
	DispatcherUnknownKind
)

// Endpoint (300-399).
const (
	EndpointWrongState CodeError = MinPkgEndpoint + iota
	EndpointTimeout
	EndpointStopping
	EndpointDisconnected
	EndpointBufferInvalid
)

// Transport (400-499).
const (
	TransportNotStarted CodeError = MinPkgTransport + iota
	TransportAlreadyRunning
	TransportAlreadyListening
	TransportConnRejected
	TransportSelfConnect
	TransportNoNetwork
	TransportBadSpec
	TransportConnectTimeout
)

// Config (500-599).
const (
	ConfigInvalidKey CodeError = MinPkgConfig + iota
	ConfigInvalidValue
)
