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

package endpoint_test

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libdg "github.com/meshbus/ardp/ardp"
	libend "github.com/meshbus/ardp/endpoint"
	"github.com/meshbus/ardp/internal/apperr"
)

var _ = Describe("[TC-EP] Endpoint lifecycle and callbacks", func() {
	var (
		snd *fakeSender
		rtr *fakeRouter
		ep  *libend.Endpoint
	)

	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9955}

	BeforeEach(func() {
		snd = &fakeSender{}
		rtr = &fakeRouter{}
		ep = libend.New(7, true, remote, rtr, snd, 100*time.Millisecond, 1, nil, nil)
	})

	Describe("state machine", func() {
		It("[TC-EP-001] should begin INITIALIZED and reach STARTED via Start", func() {
			Expect(ep.State()).To(Equal(libend.Initialized))
			Expect(ep.Start()).To(Succeed())
			Expect(ep.State()).To(Equal(libend.Started))
			Expect(rtr.registered).To(HaveLen(1))
		})

		It("[TC-EP-002] should fail terminally when router registration fails", func() {
			rtr.registerErr = apperr.EndpointWrongState.Error()
			Expect(ep.Start()).ToNot(Succeed())
			Expect(ep.State()).To(Equal(libend.Failed))
			Expect(ep.State().Terminal()).To(BeTrue())
		})

		It("[TC-EP-003] should stop advisorily and stay STOPPING until the stream settles", func() {
			Expect(ep.Start()).To(Succeed())

			ep.Stop()
			Expect(ep.State()).To(Equal(libend.Stopping))
			Expect(snd.disconnectCount()).To(Equal(1))

			// Stream has not seen its disconnect confirmation yet.
			Expect(ep.Join()).To(BeFalse())

			ep.Stop()
			Expect(snd.disconnectCount()).To(Equal(1))
		})

		It("[TC-EP-004] should join, exit and end DONE after a disconnect callback", func() {
			Expect(ep.Start()).To(Succeed())

			ep.DisconnectCb(libdg.StatusTimeout)
			Expect(ep.State()).To(Equal(libend.Stopping))

			Expect(ep.Join()).To(BeTrue())
			Expect(ep.State()).To(Equal(libend.Joined))
			Expect(ep.Join()).To(BeTrue())

			ep.Exit()
			Expect(ep.State()).To(Equal(libend.Done))
			Expect(ep.Exited()).To(BeTrue())
			Expect(rtr.unregistered).To(HaveLen(1))

			ep.Exit()
			Expect(rtr.unregistered).To(HaveLen(1))
		})
	})

	Describe("PushMessage", func() {
		It("[TC-EP-010] should require STARTED", func() {
			_, err := ep.PushMessage([]byte("msg"))
			Expect(err).To(HaveOccurred())
			Expect(apperr.Is(err, apperr.EndpointWrongState)).To(BeTrue())
		})

		It("[TC-EP-011] should clone the message before handing it downstream", func() {
			Expect(ep.Start()).To(Succeed())

			msg := []byte("original")
			_, err := ep.PushMessage(msg)
			Expect(err).ToNot(HaveOccurred())

			msg[0] = 'X'
			Expect(snd.sentBuffers()[0]).To(Equal([]byte("original")))
		})
	})

	Describe("RecvCb", func() {
		It("[TC-EP-020] should forward a delivered buffer to the router", func() {
			Expect(ep.Start()).To(Succeed())

			ep.RecvCb(&libdg.RcvBuf{ConnID: 7, Data: []byte("inbound"), FragCount: 1}, libdg.StatusOK)
			Expect(rtr.messageCount()).To(Equal(1))
		})

		It("[TC-EP-021] should drop a buffer with an out-of-range fragment count", func() {
			Expect(ep.Start()).To(Succeed())

			ep.RecvCb(&libdg.RcvBuf{ConnID: 7, Data: []byte("inbound"), FragCount: 4}, libdg.StatusOK)
			Expect(rtr.messageCount()).To(BeZero())
		})

		It("[TC-EP-022] should ignore deliveries outside STARTING/STARTED", func() {
			Expect(ep.Start()).To(Succeed())
			ep.Stop()

			ep.RecvCb(&libdg.RcvBuf{ConnID: 7, Data: []byte("inbound"), FragCount: 1}, libdg.StatusOK)
			Expect(rtr.messageCount()).To(BeZero())
		})
	})

	Describe("DisconnectCb", func() {
		It("[TC-EP-030] should notify the router of the lost connection exactly once", func() {
			Expect(ep.Start()).To(Succeed())

			ep.DisconnectCb(libdg.StatusTimeout)
			Expect(rtr.lostCount()).To(Equal(1))
			Expect(ep.Stream.IsDisconnected()).To(BeTrue())
		})

		It("[TC-EP-031] should treat an OK status as the solicited confirmation", func() {
			Expect(ep.Start()).To(Succeed())

			ep.Stop()
			Expect(ep.Stream.IsDisconnected()).To(BeFalse())

			ep.DisconnectCb(libdg.StatusOK)
			Expect(ep.Stream.IsDisconnected()).To(BeTrue())
			Expect(snd.disconnectCount()).To(Equal(1))
		})
	})

	Describe("SendCb", func() {
		It("[TC-EP-040] should release the outstanding write", func() {
			Expect(ep.Start()).To(Succeed())

			_, err := ep.PushMessage([]byte("msg"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ep.Stream.OutstandingWrites()).To(Equal(int32(1)))

			ep.SendCb(7, nil, libdg.StatusOK)
			Expect(ep.Stream.OutstandingWrites()).To(BeZero())
		})
	})
})
