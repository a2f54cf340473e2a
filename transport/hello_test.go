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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libtrp "github.com/meshbus/ardp/transport"
)

var _ = Describe("[TC-HL] Handshake hello codec", func() {
	It("[TC-HL-001] should round-trip every identity field", func() {
		in := libtrp.Hello{
			GUID:         "0af1-77",
			UniqueName:   ":1.42",
			BusToBus:     true,
			AllowRemote:  true,
			ProtoVersion: 12,
			NameTransfer: "all",
		}

		raw, err := in.Encode()
		Expect(err).ToNot(HaveOccurred())

		out, err := libtrp.DecodeHello(raw)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("[TC-HL-002] should generate a distinct GUID per local hello", func() {
		h1, err := libtrp.NewLocalHello(":1.1", true)
		Expect(err).ToNot(HaveOccurred())
		h2, err := libtrp.NewLocalHello(":1.1", true)
		Expect(err).ToNot(HaveOccurred())

		Expect(h1.GUID).ToNot(BeEmpty())
		Expect(h1.GUID).ToNot(Equal(h2.GUID))
		Expect(h1.ProtoVersion).ToNot(BeZero())
	})

	It("[TC-HL-003] should reject bytes that are not a hello", func() {
		_, err := libtrp.DecodeHello([]byte("\xff\xff not cbor"))
		Expect(err).To(HaveOccurred())
	})
})
