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

package transport_test

import (
	"bytes"
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libend "github.com/meshbus/ardp/endpoint"
	libtrp "github.com/meshbus/ardp/transport"
)

var _ = Describe("[TC-TR] Transport end to end", func() {
	var (
		ctx context.Context
		cnl context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cnl = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cnl()
	})

	startTransport := func(name string, mutate func(*libtrp.Config)) (*libtrp.Transport, *busRouter) {
		cfg := quickConfig(name)
		if mutate != nil {
			mutate(&cfg)
		}

		rtr := &busRouter{}
		tr := libtrp.New(cfg, rtr, nil, nil)
		Expect(tr.Start(ctx)).To(Succeed())

		DeferCleanup(func() {
			Expect(tr.Stop(context.Background())).To(Succeed())
			Expect(tr.Join(context.Background())).To(Succeed())
		})

		return tr, rtr
	}

	specFor := func(tr *libtrp.Transport) string {
		addr := tr.LocalAddr()
		Expect(addr).ToNot(BeNil())
		return fmt.Sprintf("udp:u4addr=127.0.0.1,u4port=%d", addr.Port)
	}

	Describe("lifecycle", func() {
		It("[TC-TR-001] should refuse a second Start and tolerate repeated Stop/Join", func() {
			tr, _ := startTransport(":lifecycle.1", nil)

			Expect(tr.Start(ctx)).ToNot(Succeed())

			Expect(tr.Stop(context.Background())).To(Succeed())
			Expect(tr.Stop(context.Background())).To(Succeed())
			Expect(tr.Join(context.Background())).To(Succeed())
			Expect(tr.Join(context.Background())).To(Succeed())
		})

		It("[TC-TR-002] should refuse public API calls before Start", func() {
			cfg := quickConfig(":cold.1")
			tr := libtrp.New(cfg, &busRouter{}, nil, nil)

			_, err := tr.Connect(ctx, "udp:u4addr=127.0.0.1,u4port=9955", cfg.Hello)
			Expect(libtrp.IsNotStarted(err)).To(BeTrue())

			Expect(libtrp.IsNotStarted(tr.StartListen(ctx, "udp:u4port=0"))).To(BeTrue())
		})
	})

	Describe("connect and message exchange", func() {
		It("[TC-TR-010] should hand one identical message from dialer to listener", func() {
			a, aRtr := startTransport(":listener.1", nil)
			b, bRtr := startTransport(":dialer.1", nil)

			ep, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.1").Hello)
			Expect(err).ToNot(HaveOccurred())
			Expect(ep).ToNot(BeNil())
			Expect(ep.State()).To(Equal(libend.Started))
			Expect(ep.RemoteGUID).ToNot(BeEmpty())

			payload := bytes.Repeat([]byte("z"), 1024)
			n, err := ep.PushMessage(payload)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(len(payload)))

			Eventually(aRtr.messageList, 5*time.Second).Should(HaveLen(1))
			Expect(aRtr.messageList()[0]).To(Equal(payload))

			Expect(bRtr.messageList()).To(BeEmpty())
		})

		It("[TC-TR-011] should register endpoints on both routers", func() {
			a, aRtr := startTransport(":listener.2", nil)
			b, bRtr := startTransport(":dialer.2", nil)

			_, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.2").Hello)
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() int {
				aRtr.mu.Lock()
				defer aRtr.mu.Unlock()
				return aRtr.registered
			}, 5*time.Second).Should(Equal(1))

			bRtr.mu.Lock()
			defer bRtr.mu.Unlock()
			Expect(bRtr.registered).To(Equal(1))
		})

		It("[TC-TR-012] should deliver a fragmented message as one identical buffer", func() {
			a, aRtr := startTransport(":listener.3", nil)
			b, _ := startTransport(":dialer.3", nil)

			ep, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.3").Hello)
			Expect(err).ToNot(HaveOccurred())

			payload := make([]byte, 2*1460+100)
			for i := range payload {
				payload[i] = byte(i)
			}

			_, err = ep.PushMessage(payload)
			Expect(err).ToNot(HaveOccurred())

			Eventually(aRtr.messageList, 5*time.Second).Should(HaveLen(1))
			Expect(aRtr.messageList()[0]).To(Equal(payload))
		})

		It("[TC-TR-013] should keep per-endpoint message order", func() {
			a, aRtr := startTransport(":listener.4", nil)
			b, _ := startTransport(":dialer.4", nil)

			ep, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.4").Hello)
			Expect(err).ToNot(HaveOccurred())

			const total = 20
			for i := 0; i < total; i++ {
				_, err = ep.PushMessage([]byte{byte(i)})
				Expect(err).ToNot(HaveOccurred())
			}

			Eventually(aRtr.messageList, 10*time.Second).Should(HaveLen(total))
			for i, msg := range aRtr.messageList() {
				Expect(msg).To(Equal([]byte{byte(i)}))
			}
		})
	})

	Describe("refusals", func() {
		It("[TC-TR-020] should refuse a self-connect without touching the network", func() {
			tr, _ := startTransport(":self.1", nil)

			_, err := tr.Connect(ctx, specFor(tr), quickConfig(":self.1").Hello)
			Expect(libtrp.IsAlreadyListening(err)).To(BeTrue())
		})

		It("[TC-TR-021] should refuse a target with no matching local network", func() {
			tr, _ := startTransport(":nonet.1", nil)

			_, err := tr.Connect(ctx, "udp:u4addr=198.51.100.7,u4port=1", nil)
			Expect(libtrp.IsNoNetwork(err)).To(BeTrue())
		})

		It("[TC-TR-022] should fail the dialer when the listener's admission limit is reached", func() {
			a, _ := startTransport(":full.1", func(c *libtrp.Config) {
				c.MaxIncompleteConns = 0
			})
			b, _ := startTransport(":dialer.5", nil)

			_, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.5").Hello)
			Expect(err).To(HaveOccurred())
		})

		It("[TC-TR-023] should time out when nobody answers", func() {
			b, _ := startTransport(":dialer.6", nil)

			// A bound-then-closed port: nothing listens there afterwards.
			dead, _ := startTransport(":victim.1", nil)
			deadSpec := specFor(dead)
			Expect(dead.Stop(context.Background())).To(Succeed())
			Expect(dead.Join(context.Background())).To(Succeed())

			began := time.Now()
			_, err := b.Connect(ctx, deadSpec, nil)
			Expect(err).To(HaveOccurred())
			Expect(time.Since(began)).To(BeNumerically("<", 5*time.Second))
		})
	})

	Describe("listen management", func() {
		It("[TC-TR-030] should add, list and remove listen specs in canonical form", func() {
			tr, _ := startTransport(":listen.1", nil)

			Expect(tr.StartListen(ctx, "udp:addr=127.0.0.1,port=0")).To(Succeed())

			addrs := tr.GetListenAddresses()
			Expect(addrs).To(HaveLen(1))
			Expect(addrs[0]).To(HavePrefix("udp:u4addr=127.0.0.1"))

			Expect(tr.StartListen(ctx, addrs[0])).ToNot(Succeed())

			Expect(tr.StopListen(addrs[0])).To(Succeed())
			Expect(tr.GetListenAddresses()).To(BeEmpty())
		})
	})

	Describe("disconnect", func() {
		It("[TC-TR-040] should tear the endpoint down and tell both routers once", func() {
			a, aRtr := startTransport(":listener.5", nil)
			b, bRtr := startTransport(":dialer.7", nil)

			ep, err := b.Connect(ctx, specFor(a), quickConfig(":dialer.7").Hello)
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() int {
				aRtr.mu.Lock()
				defer aRtr.mu.Unlock()
				return aRtr.registered
			}, 5*time.Second).Should(Equal(1))

			ep.Stop()

			Eventually(bRtr.unregisteredCount, 10*time.Second).Should(Equal(1))
			Eventually(bRtr.lostCount, 10*time.Second).Should(Equal(1))
			Eventually(aRtr.lostCount, 10*time.Second).Should(Equal(1))

			Consistently(bRtr.lostCount, 200*time.Millisecond).Should(Equal(1))
		})
	})
})
