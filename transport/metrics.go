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
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the transport's prometheus instrumentation: gauges for the
// endpoint table sizes, counters for backpressure observations and message
// traffic, and a connect-latency histogram.
type metrics struct {
	tableSize       *prometheus.GaugeVec
	backpressure    prometheus.Counter
	messagesSent    prometheus.Counter
	messagesRecv    prometheus.Counter
	connectLatency  prometheus.Histogram
	connectionsLost prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		tableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ardp",
			Subsystem: "transport",
			Name:      "endpoints",
			Help:      "Number of endpoints per table (pre, auth, active).",
		}, []string{"table"}),
		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardp",
			Subsystem: "stream",
			Name:      "backpressure_total",
			Help:      "Number of times push_bytes observed BACKPRESSURE from ardp_send.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardp",
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Number of messages acknowledged by the peer (one per send_cb OK).",
		}),
		messagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardp",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Number of reassembled messages delivered by recv_cb.",
		}),
		connectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ardp",
			Subsystem: "transport",
			Name:      "connect_latency_seconds",
			Help:      "Time from Connect call to handshake completion or failure.",
			Buckets:   prometheus.DefBuckets,
		}),
		connectionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ardp",
			Subsystem: "transport",
			Name:      "connections_lost_total",
			Help:      "Number of disconnect callbacks forwarded to endpoints.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.tableSize, m.backpressure, m.messagesSent, m.messagesRecv, m.connectLatency, m.connectionsLost)
	}

	return m
}

func (m *metrics) setTableSizes(pre, auth, active int) {
	m.tableSize.WithLabelValues("pre").Set(float64(pre))
	m.tableSize.WithLabelValues("auth").Set(float64(auth))
	m.tableSize.WithLabelValues("active").Set(float64(active))
}
