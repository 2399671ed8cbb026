package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "activitypulse"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Set bundles every metric family the service exports.
type Set struct {
	Connections *ConnectionMetrics
	Rooms       *RoomMetrics
	Broker      *BrokerMetrics
	HTTP        *HTTPMetrics
}

// NewSet creates and registers all metric families on reg.
func NewSet(reg prometheus.Registerer) *Set {
	return &Set{
		Connections: NewConnectionMetrics(reg),
		Rooms:       NewRoomMetrics(reg),
		Broker:      NewBrokerMetrics(reg),
		HTTP:        NewHTTPMetrics(reg),
	}
}
