package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	clientsConnected prometheus.Gauge
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Currently connected WebSocket clients",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Messages written to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorstream",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to WebSocket clients",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"websocket.clients":  m.clientsConnected,
		"websocket.messages": m.messagesSent,
		"websocket.bytes":    m.bytesSent,
	}
	for name, c := range collectors {
		if err := registry.Register(name, c); err != nil {
			return nil
		}
	}
	return m
}
