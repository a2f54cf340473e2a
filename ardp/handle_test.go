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

package ardp_test

import (
	"bytes"
	"encoding/binary"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libdg "github.com/meshbus/ardp/ardp"
)

var _ = Describe("[TC-HD] Handle protocol behavior", func() {
	var (
		w   *wire
		rec *cbRecorder
		h   *libdg.Handle
		cfg libdg.Config
	)

	BeforeEach(func() {
		w = &wire{}
		rec = newRecorder()
		cfg = libdg.DefaultConfig()
		h = libdg.NewHandle(w, cfg, rec.callbacks())
	})

	Describe("active handshake", func() {
		It("[TC-HD-001] should emit a SYN carrying the hello payload", func() {
			_, err := h.Connect(peerAddr, []byte("hello"))
			Expect(err).ToNot(HaveOccurred())

			Expect(w.count()).To(Equal(1))
			syn := w.last()
			Expect(syn.Header.Flags.Has(libdg.FlagSYN)).To(BeTrue())
			Expect(syn.Header.Flags.Has(libdg.FlagACK)).To(BeFalse())
			Expect(syn.Payload).To(Equal([]byte("hello")))
		})

		It("[TC-HD-002] should open on SYN-ACK, ack it, and deliver the hello reply", func() {
			id, err := h.Connect(peerAddr, []byte("hello"))
			Expect(err).ToNot(HaveOccurred())

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagSYN | libdg.FlagACK,
				Seq: 0, Ack: 1, Window: 4, SrcConnID: 77, DstConnID: id,
			}, []byte("reply")))

			state, ok := h.StateOf(id)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(libdg.StateOpen))

			evs := rec.connectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].passive).To(BeFalse())
			Expect(evs[0].status).To(Equal(libdg.StatusOK))
			Expect(evs[0].reply).To(Equal([]byte("reply")))

			final := w.last()
			Expect(final.Header.Flags.Has(libdg.FlagACK)).To(BeTrue())
			Expect(final.Header.Ack).To(Equal(uint32(1)))
			Expect(final.Header.DstConnID).To(Equal(uint32(77)))
		})

		It("[TC-HD-003] should retry the SYN and give up with a timeout connect callback", func() {
			id, err := h.Connect(peerAddr, []byte("hello"))
			Expect(err).ToNot(HaveOccurred())

			now := time.Now()
			for i := 0; i <= cfg.ConnectRetries; i++ {
				now = now.Add(cfg.ConnectTimeout + time.Millisecond)
				h.Tick(now)
			}

			evs := rec.connectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].connID).To(Equal(id))
			Expect(evs[0].status).To(Equal(libdg.StatusTimeout))

			synCount := 0
			for _, dg := range w.sent() {
				if dg.Header.Flags.Has(libdg.FlagSYN) {
					synCount++
				}
			}
			Expect(synCount).To(Equal(1 + cfg.ConnectRetries))
		})

		It("[TC-HD-004] should report a handshake failure, not a disconnect, on RST", func() {
			id, err := h.Connect(peerAddr, []byte("hello"))
			Expect(err).ToNot(HaveOccurred())

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagRST, DstConnID: id,
			}, nil))

			Expect(rec.disconnectEvents()).To(BeEmpty())
			evs := rec.connectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].status).ToNot(Equal(libdg.StatusOK))
		})
	})

	Describe("passive handshake", func() {
		craftSYN := func(srcID uint32, window uint16, hello []byte) []byte {
			return libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagSYN,
				Seq: 0, Window: window, SrcConnID: srcID,
			}, hello)
		}

		It("[TC-HD-010] should consult accept_cb and answer SYN-ACK with the reply hello", func() {
			rec.acceptReply = []byte("welcome")

			h.HandleDatagram(peerAddr, craftSYN(55, 4, []byte("greeting")))

			accepts := rec.acceptEvents()
			Expect(accepts).To(HaveLen(1))
			Expect(accepts[0].hello).To(Equal([]byte("greeting")))

			synack := w.last()
			Expect(synack.Header.Flags.Has(libdg.FlagSYN)).To(BeTrue())
			Expect(synack.Header.Flags.Has(libdg.FlagACK)).To(BeTrue())
			Expect(synack.Header.DstConnID).To(Equal(uint32(55)))
			Expect(synack.Payload).To(Equal([]byte("welcome")))
		})

		It("[TC-HD-011] should answer RST addressed to the caller when accept_cb refuses", func() {
			rec.acceptOK = false

			h.HandleDatagram(peerAddr, craftSYN(55, 4, []byte("greeting")))

			rst := w.last()
			Expect(rst.Header.Flags.Has(libdg.FlagRST)).To(BeTrue())
			Expect(rst.Header.DstConnID).To(Equal(uint32(55)))
		})

		It("[TC-HD-012] should fire connect_cb(passive) once the final ACK lands", func() {
			h.HandleDatagram(peerAddr, craftSYN(55, 4, []byte("greeting")))
			passiveID := rec.acceptEvents()[0].connID

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 0, Ack: 1, Window: 4, SrcConnID: 55, DstConnID: passiveID,
			}, nil))

			state, ok := h.StateOf(passiveID)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(libdg.StateOpen))

			evs := rec.connectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].passive).To(BeTrue())
			Expect(evs[0].status).To(Equal(libdg.StatusOK))
		})
	})

	Describe("data transfer", func() {
		It("[TC-HD-020] should send in-window data and fire send_cb on cumulative ack", func() {
			id := openActive(h, w, 77, 2)

			Expect(h.Send(id, []byte("abc"))).To(Succeed())

			seg := w.last()
			Expect(seg.Header.Seq).To(Equal(uint32(1)))
			Expect(seg.Header.FragIndex).To(Equal(uint16(1)))
			Expect(seg.Header.FragCount).To(Equal(uint16(1)))
			Expect(seg.Payload).To(Equal([]byte("abc")))

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: 2, Window: 2, SrcConnID: 77, DstConnID: id,
			}, nil))

			Expect(rec.sendEvents()).To(HaveLen(1))
			Expect(rec.sendEvents()[0].status).To(Equal(libdg.StatusOK))
		})

		It("[TC-HD-021] should return BACKPRESSURE once the peer window is full", func() {
			id := openActive(h, w, 77, 2)

			Expect(h.Send(id, []byte("m1"))).To(Succeed())
			Expect(h.Send(id, []byte("m2"))).To(Succeed())

			err := h.Send(id, []byte("m3"))
			Expect(err).To(HaveOccurred())
			Expect(libdg.IsBackpressure(err)).To(BeTrue())
		})

		It("[TC-HD-022] should deliver in-order data and re-ack duplicates without redelivery", func() {
			id := openActive(h, w, 77, 2)

			data := libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: 1, Window: 2, SrcConnID: 77, DstConnID: id,
				FragIndex: 1, FragCount: 1,
			}, []byte("payload"))

			h.HandleDatagram(peerAddr, data)
			Expect(rec.recvEvents()).To(HaveLen(1))
			Expect(rec.recvEvents()[0].Data).To(Equal([]byte("payload")))

			h.HandleDatagram(peerAddr, data)
			Expect(rec.recvEvents()).To(HaveLen(1))

			ack := w.last()
			Expect(ack.Header.Flags.Has(libdg.FlagACK)).To(BeTrue())
			Expect(ack.Header.Ack).To(Equal(uint32(2)))
		})

		It("[TC-HD-023] should fragment oversize messages and reassemble the peer's fragments", func() {
			cfg.SegBMax = 4
			h = libdg.NewHandle(w, cfg, rec.callbacks())
			id := openActive(h, w, 77, 8)

			msg := []byte("0123456789")
			Expect(h.Send(id, msg)).To(Succeed())

			frags := w.sent()
			Expect(frags).To(HaveLen(3))
			var joined []byte
			for i, f := range frags {
				Expect(f.Header.FragIndex).To(Equal(uint16(i + 1)))
				Expect(f.Header.FragCount).To(Equal(uint16(3)))
				joined = append(joined, f.Payload...)
			}
			Expect(joined).To(Equal(msg))

			for i, f := range frags {
				h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
					Version: libdg.Version, Flags: libdg.FlagACK,
					Seq: uint32(1 + i), Ack: 1, Window: 8, SrcConnID: 77, DstConnID: id,
					FragIndex: f.Header.FragIndex, FragCount: 3,
				}, f.Payload))
			}

			recvs := rec.recvEvents()
			Expect(recvs).To(HaveLen(1))
			Expect(recvs[0].Data).To(Equal(msg))
		})

		It("[TC-HD-024] should refuse a message that cannot fit the fragment cap", func() {
			cfg.SegBMax = 4
			h = libdg.NewHandle(w, cfg, rec.callbacks())
			id := openActive(h, w, 77, 8)

			err := h.Send(id, bytes.Repeat([]byte("x"), 13))
			Expect(err).To(HaveOccurred())
			Expect(libdg.IsBackpressure(err)).To(BeFalse())
		})
	})

	Describe("loss recovery", func() {
		It("[TC-HD-030] should fast-retransmit after the dup-ack threshold", func() {
			id := openActive(h, w, 77, 4)

			Expect(h.Send(id, []byte("m1"))).To(Succeed())
			Expect(h.Send(id, []byte("m2"))).To(Succeed())

			dup := libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: 2, Window: 4, SrcConnID: 77, DstConnID: id,
			}, nil)

			h.HandleDatagram(peerAddr, dup) // frees seq 1
			before := w.count()
			h.HandleDatagram(peerAddr, dup) // dup 1, reaches the threshold
			h.HandleDatagram(peerAddr, dup) // dup 2

			var retrans *libdg.Datagram
			for _, dg := range w.sent()[before:] {
				if len(dg.Payload) > 0 {
					retrans = dg
				}
			}
			Expect(retrans).ToNot(BeNil())
			Expect(retrans.Header.Seq).To(Equal(uint32(2)))
			Expect(retrans.Payload).To(Equal([]byte("m2")))
		})

		It("[TC-HD-031] should answer an out-of-order segment with an EAK naming it", func() {
			id := openActive(h, w, 77, 4)

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 9, Ack: 1, Window: 4, SrcConnID: 77, DstConnID: id,
				FragIndex: 1, FragCount: 1,
			}, []byte("late")))

			Expect(rec.recvEvents()).To(BeEmpty())

			eak := w.last()
			Expect(eak.Header.Flags.Has(libdg.FlagEAK)).To(BeTrue())
			Expect(eak.Header.Ack).To(Equal(uint32(1)))
			Expect(eak.Payload).To(HaveLen(4))
			Expect(binary.BigEndian.Uint32(eak.Payload)).To(Equal(uint32(9)))
		})

		It("[TC-HD-032] should retransmit the earliest unacked segment on an inbound EAK", func() {
			id := openActive(h, w, 77, 4)

			Expect(h.Send(id, []byte("m1"))).To(Succeed())
			Expect(h.Send(id, []byte("m2"))).To(Succeed())
			before := w.count()

			var seqs [4]byte
			binary.BigEndian.PutUint32(seqs[:], 2)
			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK | libdg.FlagEAK,
				Seq: 1, Ack: 1, Window: 4, SrcConnID: 77, DstConnID: id,
			}, seqs[:]))

			sent := w.sent()[before:]
			Expect(sent).ToNot(BeEmpty())
			Expect(sent[len(sent)-1].Header.Seq).To(Equal(uint32(1)))
			Expect(sent[len(sent)-1].Payload).To(Equal([]byte("m1")))
		})

		It("[TC-HD-034] should tighten the retransmit timer when adaptive RTO is enabled", func() {
			cfg.AdaptiveRTO = true
			h = libdg.NewHandle(w, cfg, rec.callbacks())
			id := openActive(h, w, 77, 4)

			Expect(h.Send(id, []byte("m1"))).To(Succeed())
			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: 2, Window: 4, SrcConnID: 77, DstConnID: id,
			}, nil))

			Expect(h.Send(id, []byte("m2"))).To(Succeed())
			before := w.count()

			// The clean ack round-trip above was near-instant, so the
			// smoothed timeout collapses to the tick floor, far below
			// the fixed 3 s default.
			h.Tick(time.Now().Add(100 * time.Millisecond))
			Expect(w.count()).To(Equal(before + 1))
		})

		It("[TC-HD-033] should retransmit on timer expiry and tear down after the retry budget", func() {
			id := openActive(h, w, 77, 4)

			Expect(h.Send(id, []byte("m1"))).To(Succeed())
			before := w.count()

			now := time.Now()
			for i := 0; i < cfg.DataRetries; i++ {
				now = now.Add(cfg.DataTimeout + time.Millisecond)
				h.Tick(now)
			}
			Expect(w.count()).To(Equal(before + cfg.DataRetries))
			Expect(rec.disconnectEvents()).To(BeEmpty())

			now = now.Add(cfg.DataTimeout + time.Millisecond)
			h.Tick(now)

			evs := rec.disconnectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].connID).To(Equal(id))
			Expect(evs[0].status).To(Equal(libdg.StatusTimeout))
		})
	})

	Describe("keepalive and persist probing", func() {
		It("[TC-HD-040] should emit NUL probes when the link is idle", func() {
			_ = openActive(h, w, 77, 4)

			h.Tick(time.Now().Add(cfg.ProbeTimeout + time.Millisecond))

			probe := w.last()
			Expect(probe).ToNot(BeNil())
			Expect(probe.Header.Flags.Has(libdg.FlagNUL)).To(BeTrue())
		})

		It("[TC-HD-041] should tear down after probe exhaustion", func() {
			id := openActive(h, w, 77, 4)

			now := time.Now()
			for i := 0; i <= cfg.ProbeRetries; i++ {
				now = now.Add(cfg.ProbeTimeout + time.Millisecond)
				h.Tick(now)
			}

			evs := rec.disconnectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].connID).To(Equal(id))
			Expect(evs[0].status).To(Equal(libdg.StatusTimeout))
		})

		It("[TC-HD-042] should ack an inbound NUL probe so a live peer is observable", func() {
			id := openActive(h, w, 77, 4)

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagNUL,
				Seq: 1, Ack: 1, Window: 4, SrcConnID: 77, DstConnID: id,
			}, nil))

			ack := w.last()
			Expect(ack.Header.Flags.Has(libdg.FlagACK)).To(BeTrue())
			Expect(ack.Header.Flags.Has(libdg.FlagNUL)).To(BeFalse())
		})

		It("[TC-HD-043] should probe a zero window and tear down on persist exhaustion", func() {
			id := openActive(h, w, 77, 4)

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: 1, Window: 0, SrcConnID: 77, DstConnID: id,
			}, nil))

			err := h.Send(id, []byte("m"))
			Expect(libdg.IsBackpressure(err)).To(BeTrue())

			now := time.Now()
			for i := 0; i <= cfg.PersistRetries; i++ {
				now = now.Add(cfg.PersistTimeout + time.Millisecond)
				h.Tick(now)
			}

			evs := rec.disconnectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].status).To(Equal(libdg.StatusTimeout))
		})
	})

	Describe("teardown", func() {
		It("[TC-HD-050] should close gracefully through FIN, final ACK and TIME-WAIT", func() {
			id := openActive(h, w, 77, 4)

			Expect(h.Disconnect(id)).To(Succeed())
			fin := w.last()
			Expect(fin.Header.Flags.Has(libdg.FlagFIN)).To(BeTrue())

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagACK,
				Seq: 1, Ack: fin.Header.Seq + 1, Window: 4, SrcConnID: 77, DstConnID: id,
			}, nil))

			evs := rec.disconnectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].status).To(Equal(libdg.StatusOK))

			state, ok := h.StateOf(id)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(libdg.StateTimeWait))

			h.Tick(time.Now().Add(cfg.TimeWait + time.Millisecond))
			_, ok = h.StateOf(id)
			Expect(ok).To(BeFalse())
		})

		It("[TC-HD-051] should report the peer's FIN once and ack it", func() {
			id := openActive(h, w, 77, 4)

			h.HandleDatagram(peerAddr, libdg.EncodeDatagram(libdg.Header{
				Version: libdg.Version, Flags: libdg.FlagFIN,
				Seq: 1, Ack: 1, Window: 4, SrcConnID: 77, DstConnID: id,
			}, nil))

			evs := rec.disconnectEvents()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].status).ToNot(Equal(libdg.StatusOK))

			state, ok := h.StateOf(id)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(libdg.StateTimeWait))
		})

		It("[TC-HD-052] should refuse to send on a closed connection", func() {
			id := openActive(h, w, 77, 4)
			Expect(h.Disconnect(id)).To(Succeed())

			err := h.Send(id, []byte("m"))
			Expect(err).To(HaveOccurred())
			Expect(libdg.IsBackpressure(err)).To(BeFalse())
		})

		It("[TC-HD-053] should drop a malformed datagram without side effects", func() {
			h.HandleDatagram(peerAddr, []byte{0xff, 0x01})
			Expect(w.count()).To(BeZero())
			Expect(rec.connectEvents()).To(BeEmpty())
		})
	})
})
