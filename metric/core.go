// Package metric provides Prometheus metrics registration and exposition
// for sensorstream components.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Ingestion metrics
	ReadingsIngested  *prometheus.CounterVec
	ReadingsRejected  *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
	AnomaliesDetected *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Broadcast metrics
	SubscribersConnected prometheus.Gauge
	EventsPublished      prometheus.Counter
	SinkFailures         prometheus.Counter

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "ingest",
				Name:      "readings_total",
				Help:      "Total readings persisted, by source and classified status",
			},
			[]string{"source", "status"},
		),

		ReadingsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "ingest",
				Name:      "rejected_total",
				Help:      "Total readings rejected before persistence, by reason",
			},
			[]string{"source", "reason"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sensorstream",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "End-to-end ingestion duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "classify",
				Name:      "anomalies_total",
				Help:      "Total readings classified as anomalous, by sensor",
			},
			[]string{"sensor"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		SubscribersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "broadcast",
				Name:      "subscribers_connected",
				Help:      "Number of currently connected subscriber sinks",
			},
		),

		EventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "broadcast",
				Name:      "events_published_total",
				Help:      "Total events published to the broadcaster",
			},
		),

		SinkFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "broadcast",
				Name:      "sink_failures_total",
				Help:      "Subscriber sinks dropped after a write failure",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstream",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sensorstream",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordIngested increments the persisted-reading counter
func (c *Metrics) RecordIngested(source, status string) {
	c.ReadingsIngested.WithLabelValues(source, status).Inc()
}

// RecordRejected increments the rejected-reading counter
func (c *Metrics) RecordRejected(source, reason string) {
	c.ReadingsRejected.WithLabelValues(source, reason).Inc()
}

// RecordIngestDuration records end-to-end ingestion time
func (c *Metrics) RecordIngestDuration(source string, duration time.Duration) {
	c.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
