// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of Prometheus collectors a Device
// registers to observe connection, request, discovery and COV
// activity. The field names mirror the counters the hand-rolled
// predecessor of this type tracked with plain atomics.
type Metrics struct {
	ConnectAttempts  prometheus.Counter
	ConnectSuccesses prometheus.Counter
	ConnectFailures  prometheus.Counter
	Disconnects      prometheus.Counter

	RequestsSent      prometheus.Counter
	RequestsSucceeded prometheus.Counter
	RequestsFailed    prometheus.Counter
	RequestsTimedOut  prometheus.Counter

	ResponsesReceived prometheus.Counter
	ErrorsReceived    prometheus.Counter
	RejectsReceived   prometheus.Counter
	AbortsReceived    prometheus.Counter

	WhoIsSent         prometheus.Counter
	IAmReceived       prometheus.Counter
	DevicesDiscovered prometheus.Counter

	COVSubscriptions prometheus.Gauge
	COVNotifications prometheus.Counter

	RequestLatency prometheus.Histogram

	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter

	ActiveRequests      prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge

	startTime time.Time
}

// NewMetrics registers a fresh set of collectors against reg. Passing
// prometheus.NewRegistry() keeps metrics isolated per Device, which
// matters when a process hosts more than one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	namespace := "bacnet"

	m := &Metrics{
		ConnectAttempts:  newCounter(namespace, "connect_attempts_total", "Connection attempts made."),
		ConnectSuccesses: newCounter(namespace, "connect_successes_total", "Connection attempts that succeeded."),
		ConnectFailures:  newCounter(namespace, "connect_failures_total", "Connection attempts that failed."),
		Disconnects:      newCounter(namespace, "disconnects_total", "Times the transport was closed."),

		RequestsSent:      newCounter(namespace, "requests_sent_total", "Confirmed service requests sent."),
		RequestsSucceeded: newCounter(namespace, "requests_succeeded_total", "Confirmed requests that completed with a simple-ack or complex-ack."),
		RequestsFailed:    newCounter(namespace, "requests_failed_total", "Confirmed requests that completed with an error, reject, or abort."),
		RequestsTimedOut:  newCounter(namespace, "requests_timed_out_total", "Confirmed requests that exhausted all retries."),

		ResponsesReceived: newCounter(namespace, "responses_received_total", "Simple-ack or complex-ack PDUs received."),
		ErrorsReceived:    newCounter(namespace, "errors_received_total", "BACnet-Error PDUs received."),
		RejectsReceived:   newCounter(namespace, "rejects_received_total", "Reject PDUs received."),
		AbortsReceived:    newCounter(namespace, "aborts_received_total", "Abort PDUs received."),

		WhoIsSent:         newCounter(namespace, "who_is_sent_total", "Who-Is requests broadcast."),
		IAmReceived:       newCounter(namespace, "i_am_received_total", "I-Am announcements received."),
		DevicesDiscovered: newCounter(namespace, "devices_discovered_total", "Distinct device instances observed via I-Am."),

		COVSubscriptions: newGauge(namespace, "cov_subscriptions", "Currently active COV subscriptions."),
		COVNotifications: newCounter(namespace, "cov_notifications_total", "COV notifications dispatched."),

		RequestLatency: newHistogram(namespace, "request_latency_seconds", "Confirmed request round-trip latency.",
			[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}),

		BytesSent:     newCounter(namespace, "bytes_sent_total", "Bytes written to the transport."),
		BytesReceived: newCounter(namespace, "bytes_received_total", "Bytes read from the transport."),

		ActiveRequests:      newGauge(namespace, "active_requests", "Confirmed requests currently awaiting a response."),
		ActiveSubscriptions: newGauge(namespace, "active_subscriptions", "Alias of cov_subscriptions, kept for dashboards built against the prior name."),

		startTime: time.Now(),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectAttempts, m.ConnectSuccesses, m.ConnectFailures, m.Disconnects,
			m.RequestsSent, m.RequestsSucceeded, m.RequestsFailed, m.RequestsTimedOut,
			m.ResponsesReceived, m.ErrorsReceived, m.RejectsReceived, m.AbortsReceived,
			m.WhoIsSent, m.IAmReceived, m.DevicesDiscovered,
			m.COVSubscriptions, m.COVNotifications,
			m.RequestLatency,
			m.BytesSent, m.BytesReceived,
			m.ActiveRequests, m.ActiveSubscriptions,
		)
	}
	return m
}

func newCounter(namespace, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func newGauge(namespace, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func newHistogram(namespace, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets})
}

// RecordLatency observes a completed request's round-trip time.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.RequestLatency.Observe(d.Seconds())
}

// Uptime returns the time since this Metrics was constructed.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
