package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gateway connection and fan-out counters.
type Metrics struct {
	connections    prometheus.Gauge
	messagesSent   prometheus.Counter
	protocolErrors *prometheus.CounterVec
	relayMessages  *prometheus.CounterVec
}

// NewMetrics registers gateway metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plateful_gateway_connections",
			Help: "Currently registered websocket connections.",
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "plateful_gateway_messages_sent_total",
			Help: "Messages written to websocket connections.",
		}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plateful_gateway_protocol_errors_total",
			Help: "Dropped malformed client messages and relay payloads.",
		}, []string{"source"}),
		relayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plateful_gateway_relay_messages_total",
			Help: "Messages received from the relay by channel prefix.",
		}, []string{"prefix"}),
	}
}
