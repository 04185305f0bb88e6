package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// Metrics holds Prometheus metrics for the transport reader
type Metrics struct {
	linesReceived  prometheus.Counter
	bytesReceived  prometheus.Counter
	decodeFailures prometheus.Counter
	reconnects     prometheus.Counter
	connected      prometheus.Gauge
	lastActivity   prometheus.Gauge
}

// newMetrics creates and registers transport metrics. Returns nil when no
// registry is provided.
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "lines_received_total",
			Help:      "Total lines read from the transport",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the transport",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "decode_failures_total",
			Help:      "Lines dropped because no decode rule matched",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Connection attempts after a failure or close",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Transport connection status (0=closed, 1=open)",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "transport",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last received line",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"transport.lines":           m.linesReceived,
		"transport.bytes":           m.bytesReceived,
		"transport.decode_failures": m.decodeFailures,
		"transport.reconnects":      m.reconnects,
		"transport.connected":       m.connected,
		"transport.last_activity":   m.lastActivity,
	}
	for name, c := range collectors {
		if err := registry.Register(name, c); err != nil {
			// Second reader instance or double registration: run without
			// component metrics rather than fail startup
			return nil
		}
	}
	return m
}
