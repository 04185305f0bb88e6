package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// Metrics holds Prometheus metrics for the HTTP gateway
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	requestsFailed prometheus.Counter
	sseClients     prometheus.Gauge
	sseEventsSent  prometheus.Counter
}

// newMetrics creates and registers gateway metrics. Returns nil when no
// registry is provided.
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests received",
		}, []string{"method", "path"}),
		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "gateway",
			Name:      "requests_failed_total",
			Help:      "HTTP requests answered with an error status",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "gateway",
			Name:      "sse_clients",
			Help:      "Currently connected event stream clients",
		}),
		sseEventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "gateway",
			Name:      "sse_events_sent_total",
			Help:      "Events delivered over the event stream",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"gateway.requests":        m.requestsTotal,
		"gateway.requests_failed": m.requestsFailed,
		"gateway.sse_clients":     m.sseClients,
		"gateway.sse_events":      m.sseEventsSent,
	}
	for name, c := range collectors {
		if err := registry.Register(name, c); err != nil {
			return nil
		}
	}
	return m
}
