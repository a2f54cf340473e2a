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

package dispatcher_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libdg "github.com/meshbus/ardp/ardp"
	libdsp "github.com/meshbus/ardp/dispatcher"
)

var _ = Describe("[TC-DP] Dispatcher workqueue", func() {
	var (
		sink    *sinkRecorder
		known   map[uint32]libdsp.Sink
		knownMu sync.Mutex

		connects []libdsp.Entry
		connMu   sync.Mutex

		d   *libdsp.Dispatcher
		ctx context.Context
		cnl context.CancelFunc
	)

	lookup := func(connID uint32) (libdsp.Sink, bool) {
		knownMu.Lock()
		defer knownMu.Unlock()
		s, ok := known[connID]
		return s, ok
	}

	onConnect := func(e libdsp.Entry) {
		connMu.Lock()
		defer connMu.Unlock()
		connects = append(connects, e)
	}

	connectEntries := func() []libdsp.Entry {
		connMu.Lock()
		defer connMu.Unlock()
		return append([]libdsp.Entry(nil), connects...)
	}

	BeforeEach(func() {
		sink = &sinkRecorder{}
		known = map[uint32]libdsp.Sink{7: sink}
		connects = nil

		d = libdsp.New(lookup, onConnect)
		ctx, cnl = context.WithCancel(context.Background())
		Expect(d.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(d.Stop(context.Background())).To(Succeed())
		cnl()
	})

	It("[TC-DP-001] should dispatch each entry kind to the matching endpoint method", func() {
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindRecvCb, ConnID: 7, Rcv: &libdg.RcvBuf{ConnID: 7}})
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindSendCb, ConnID: 7})
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindDisconnectCb, ConnID: 7})
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindExit, ConnID: 7})

		Eventually(sink.recorded, time.Second).Should(Equal([]string{"recv", "send", "disconnect", "exit"}))
	})

	It("[TC-DP-002] should preserve enqueue order across a burst", func() {
		for i := 0; i < 50; i++ {
			d.Enqueue(libdsp.Entry{Kind: libdsp.KindRecvCb, ConnID: 7, Rcv: &libdg.RcvBuf{ConnID: 7}})
			d.Enqueue(libdsp.Entry{Kind: libdsp.KindSendCb, ConnID: 7})
		}

		Eventually(func() int { return len(sink.recorded()) }, time.Second).Should(Equal(100))

		calls := sink.recorded()
		for i := 0; i < 100; i += 2 {
			Expect(calls[i]).To(Equal("recv"))
			Expect(calls[i+1]).To(Equal("send"))
		}
	})

	It("[TC-DP-003] should route ConnectCb entries to the connect handler without a lookup", func() {
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindConnectCb, ConnID: 99, Passive: false, Success: true})

		Eventually(connectEntries, time.Second).Should(HaveLen(1))
		Expect(connectEntries()[0].ConnID).To(Equal(uint32(99)))
		Expect(sink.recorded()).To(BeEmpty())
	})

	It("[TC-DP-004] should drop entries for unknown connection ids", func() {
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindRecvCb, ConnID: 42, Rcv: &libdg.RcvBuf{ConnID: 42}})
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindDisconnectCb, ConnID: 42})
		d.Enqueue(libdsp.Entry{Kind: libdsp.KindSendCb, ConnID: 7})

		Eventually(sink.recorded, time.Second).Should(Equal([]string{"send"}))
	})

	It("[TC-DP-005] should stop draining after Stop", func() {
		Expect(d.Stop(context.Background())).To(Succeed())

		d.Enqueue(libdsp.Entry{Kind: libdsp.KindSendCb, ConnID: 7})
		Consistently(sink.recorded, 50*time.Millisecond).Should(BeEmpty())
	})
})
