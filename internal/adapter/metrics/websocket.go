package metrics

import "github.com/prometheus/client_golang/prometheus"

// Eviction reasons.
const (
	EvictHeartbeatTimeout = "heartbeat_timeout"
	EvictPingFailed       = "ping_failed"
	EvictShutdown         = "shutdown"
)

// ConnectionMetrics holds Prometheus metrics for registered WebSocket connections.
type ConnectionMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
	Rejected          *prometheus.CounterVec
}

// NewConnectionMetrics creates and registers connection metrics on the given registry.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connections currently in the registry.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of frames accepted into an outbound buffer.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of frames dropped, by reason.",
		}, []string{"reason"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "evictions_total",
			Help:      "Total number of connections closed by the server, by reason.",
		}, []string{"reason"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_total",
			Help:      "Total number of handshakes rejected before registration, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.MessagesDropped, m.Evictions, m.Rejected)
	return m
}
