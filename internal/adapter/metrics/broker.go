package metrics

import "github.com/prometheus/client_golang/prometheus"

// BrokerMetrics holds Prometheus metrics for the cross-process broker bridge.
type BrokerMetrics struct {
	Enabled             prometheus.Gauge
	Subscriptions       prometheus.Gauge
	Published           *prometheus.CounterVec
	Received            prometheus.Counter
	Malformed           prometheus.Counter
	SubscribeErrors     prometheus.Counter
	CircuitStateChanges *prometheus.CounterVec
	Commands            *prometheus.CounterVec
	CommandDuration     *prometheus.HistogramVec
	DialErrors          prometheus.Counter
}

// NewBrokerMetrics creates and registers broker metrics on the given registry.
func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	m := &BrokerMetrics{
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "enabled",
			Help:      "1 if cross-process fan-out is active, 0 if running local-only.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "subscriptions",
			Help:      "Number of broker channels this process is subscribed to.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Total number of publish attempts, by result.",
		}, []string{"result"}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "received_total",
			Help:      "Total number of broker messages received.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "malformed_total",
			Help:      "Total number of broker messages dropped because they could not be decoded.",
		}),
		SubscribeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "subscribe_errors_total",
			Help:      "Total number of failed subscribe or unsubscribe commands.",
		}),
		CircuitStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "circuit_state_changes_total",
			Help:      "Circuit breaker transitions on the publishing client, by new state.",
		}, []string{"state"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "commands_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "command_duration_seconds",
			Help:      "Redis command latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"command"}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "dial_errors_total",
			Help:      "Total number of failed Redis connection attempts.",
		}),
	}

	reg.MustRegister(m.Enabled, m.Subscriptions, m.Published, m.Received, m.Malformed, m.SubscribeErrors, m.CircuitStateChanges,
		m.Commands, m.CommandDuration, m.DialErrors)
	return m
}
