package metrics

import "github.com/prometheus/client_golang/prometheus"

// RoomMetrics holds Prometheus metrics for the local room index.
type RoomMetrics struct {
	ActiveRooms prometheus.Gauge
	Broadcasts  prometheus.Counter
	Recipients  prometheus.Histogram
	Dispatches  *prometheus.CounterVec
}

// NewRoomMetrics creates and registers room metrics on the given registry.
func NewRoomMetrics(reg prometheus.Registerer) *RoomMetrics {
	m := &RoomMetrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Number of rooms with at least one local subscriber.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "broadcasts_total",
			Help:      "Total number of local room broadcasts.",
		}),
		Recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "broadcast_recipients",
			Help:      "Number of connections a single local broadcast was delivered to.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "dispatches_total",
			Help:      "Total number of dispatched events, by delivery mode.",
		}, []string{"mode"}),
	}

	reg.MustRegister(m.ActiveRooms, m.Broadcasts, m.Recipients, m.Dispatches)
	return m
}
