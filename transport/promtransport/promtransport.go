// Package promtransport is an optional Prometheus-backed
// transport.Metrics implementation (SPEC_FULL.md §4.F "Metrics"), grounded
// on other_examples/leapmux-leapmux's direct dependency on
// github.com/prometheus/client_golang.
package promtransport

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments a transport.Link with counters and a gauge, all
// under the "jetstream_transport" namespace.
type Metrics struct {
	connects     prometheus.Counter
	reconnects   prometheus.Counter
	fatals       prometheus.Counter
	sent         prometheus.Counter
	received     prometheus.Counter
	nonAckedSize prometheus.Gauge
}

// New registers and returns a Metrics, using reg if non-nil or
// prometheus.DefaultRegisterer otherwise.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "connects_total",
			Help: "Number of successful connection establishments.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "reconnects_total",
			Help: "Number of reconnect loop entries.",
		}),
		fatals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "fatal_total",
			Help: "Number of times the transport entered the fatal state.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "messages_sent_total",
			Help: "Number of messages sent.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "messages_received_total",
			Help: "Number of messages received.",
		}),
		nonAckedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jetstream", Subsystem: "transport", Name: "non_acked_depth",
			Help: "Current depth of the non-acknowledged outbound message buffer.",
		}),
	}
	reg.MustRegister(m.connects, m.reconnects, m.fatals, m.sent, m.received, m.nonAckedSize)
	return m
}

func (m *Metrics) Connected()          { m.connects.Inc() }
func (m *Metrics) Reconnecting()       { m.reconnects.Inc() }
func (m *Metrics) Fatal()              { m.fatals.Inc() }
func (m *Metrics) MessageSent()        { m.sent.Inc() }
func (m *Metrics) MessageReceived()    { m.received.Inc() }
func (m *Metrics) NonAckedDepth(n int) { m.nonAckedSize.Set(float64(n)) }
