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

// Package transport is deliberately silent on what a router or name service
// actually does; it only declares the shape it calls.
package transport

import "github.com/meshbus/ardp/endpoint"

// Router is the up-call surface to the bus router. It is the same interface endpoint.Endpoint uses, re-exported
// here so callers configuring a Transport do not need to import endpoint
// directly just to satisfy it.
type Router = endpoint.Router

// NameService is the up-call surface to name-service discovery and
// advertisement, an external collaborator of this core.
// A Transport with a nil NameService simply treats every advertise/discover
// call as a no-op, which keeps the core usable standalone.
type NameService interface {
	Enable() error
	Disable() error
	Advertise(name string) error
	CancelAdvertise(name string) error
	Find(prefix string) error
	CancelFind(prefix string) error
	OpenInterface(iface string) error
}
