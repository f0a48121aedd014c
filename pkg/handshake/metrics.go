package handshake

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// metrics holds the server's Prometheus collectors.
type metrics struct {
	handshakes   *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	packets      *prometheus.CounterVec
	connections  prometheus.Gauge
}

func newMetrics(namespace string, reg prometheus.Registerer) *metrics {
	m := &metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake attempts by result.",
		}, []string{"result"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Packets rejected by the codec, by error kind.",
		}, []string{"kind"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets decoded, by packet type.",
		}, []string{"type"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.handshakes, m.decodeErrors, m.packets, m.connections)
	}
	return m
}

func (m *metrics) decodeError(err error) {
	if kind := packet.ErrorKind(err); kind != "other" && kind != "" {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *metrics) packet(t packet.Type) {
	m.packets.WithLabelValues(t.String()).Inc()
}

// handshake records an outcome as accepted, rejected (CONNACK with a non-zero code) or
// failed (no CONNACK written).
func (m *metrics) handshake(o Outcome) {
	result := "failed"
	switch {
	case o.Accepted():
		result = "accepted"
	case o.Replied:
		result = "rejected"
	}
	m.handshakes.WithLabelValues(result).Inc()
}
