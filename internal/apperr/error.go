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

package apperr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// CodeError is a numeric error classification, unique per package range.
type CodeError uint16

// Error is the interface returned by every exported function in this module
// that can fail. It carries a code, an optional parent chain and the frame
// that raised it.
type Error interface {
	error

	Code() CodeError
	IsCode(code CodeError) bool
	HasCode(code CodeError) bool

	HasParent() bool
	GetParent() []error

	Unwrap() error
	Is(target error) bool

	GetTrace() string
}

type codeMessage func(CodeError) string

var messages = map[CodeError]string{
	ArdpBackpressure:          "send window exhausted",
	ArdpInvalidHeader:         "malformed ARDP header",
	ArdpUnknownConnection:     "no ARDP connection for this id",
	ArdpConnectionClosed:      "ARDP connection is closed",
	ArdpRetryExhausted:        "retry budget exhausted",
	ArdpFragmentInvalid:       "fragment index/count out of range",
	ArdpWindowExceeded:        "peer advertised window exceeded",
	DispatcherQueueClosed:     "dispatcher queue is closed",
	DispatcherUnknownKind:     "unknown workqueue entry kind",
	EndpointWrongState:        "endpoint is not in the required state",
	EndpointTimeout:           "deadline exceeded",
	EndpointStopping:          "endpoint is stopping",
	EndpointDisconnected:      "stream is disconnected",
	EndpointBufferInvalid:     "buffer ownership violation",
	TransportNotStarted:       "transport is not started",
	TransportAlreadyRunning:   "transport is already running",
	TransportAlreadyListening: "address already listening",
	TransportConnRejected:     "connection rejected by admission control",
	TransportSelfConnect:      "refusing to connect to own listen address",
	TransportNoNetwork:        "no matching local network for target address",
	TransportBadSpec:          "malformed transport spec",
	ConfigInvalidKey:          "unknown configuration key",
	ConfigInvalidValue:        "invalid configuration value",
}

// RegisterMessage lets a caller override or extend the default message table.
func RegisterMessage(code CodeError, msg string) {
	messages[code] = msg
}

func (c CodeError) message() string {
	if m, k := messages[c]; k {
		return m
	}
	return "unknown error"
}

// Error builds a new Error value for this code, optionally chaining one or
// more non-nil parent errors and capturing the immediate caller frame.
func (c CodeError) Error(parent ...error) Error {
	e := &wrapped{
		code:   c,
		parent: make([]error, 0, len(parent)),
	}

	for _, p := range parent {
		if p != nil {
			e.parent = append(e.parent, p)
		}
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			e.frame = fmt.Sprintf("%s:%d (%s)", file, line, fn.Name())
		} else {
			e.frame = fmt.Sprintf("%s:%d", file, line)
		}
	}

	return e
}

type wrapped struct {
	code   CodeError
	parent []error
	frame  string
}

func (e *wrapped) Code() CodeError { return e.code }

func (e *wrapped) IsCode(code CodeError) bool {
	return e.code == code
}

func (e *wrapped) HasCode(code CodeError) bool {
	if e.IsCode(code) {
		return true
	}
	for _, p := range e.parent {
		var we Error
		if errors.As(p, &we) && we.HasCode(code) {
			return true
		}
	}
	return false
}

func (e *wrapped) HasParent() bool {
	return len(e.parent) > 0
}

func (e *wrapped) GetParent() []error {
	out := make([]error, len(e.parent))
	copy(out, e.parent)
	return out
}

func (e *wrapped) Unwrap() error {
	if len(e.parent) == 0 {
		return nil
	}
	return e.parent[0]
}

func (e *wrapped) Is(target error) bool {
	var t Error
	if errors.As(target, &t) {
		return t.Code() == e.code
	}
	return false
}

func (e *wrapped) GetTrace() string {
	return e.frame
}

func (e *wrapped) Error() string {
	var sb strings.Builder
	sb.WriteString(e.code.message())

	if e.frame != "" {
		sb.WriteString(" [")
		sb.WriteString(e.frame)
		sb.WriteString("]")
	}

	for _, p := range e.parent {
		sb.WriteString(": ")
		sb.WriteString(p.Error())
	}

	return sb.String()
}

// Is reports whether err is an Error carrying the given code, anywhere in its
// parent chain. Exposed as a package function so callers can write
// apperr.Is(err, apperr.ArdpBackpressure) without a type assertion.
func Is(err error, code CodeError) bool {
	var e Error
	if errors.As(err, &e) {
		return e.HasCode(code)
	}
	return false
}
