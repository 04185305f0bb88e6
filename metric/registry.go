package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a prometheus registry and tracks registered collectors so
// components can share one registry without double-registration panics.
type Registry struct {
	registry *prometheus.Registry
	metrics  *Metrics
	mu       sync.RWMutex
	known    map[string]prometheus.Collector
}

// NewRegistry creates a registry with the platform metrics pre-registered.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		metrics:  NewMetrics(),
		known:    make(map[string]prometheus.Collector),
	}

	collectors := map[string]prometheus.Collector{
		"ingest.readings":        r.metrics.ReadingsIngested,
		"ingest.rejected":        r.metrics.ReadingsRejected,
		"ingest.duration":        r.metrics.IngestDuration,
		"classify.anomalies":     r.metrics.AnomaliesDetected,
		"errors.total":           r.metrics.ErrorsTotal,
		"broadcast.subscribers":  r.metrics.SubscribersConnected,
		"broadcast.events":       r.metrics.EventsPublished,
		"broadcast.sinkfailures": r.metrics.SinkFailures,
		"nats.connected":         r.metrics.NATSConnected,
		"nats.reconnects":        r.metrics.NATSReconnects,
	}
	for name, c := range collectors {
		if err := r.Register(name, c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Metrics returns the shared platform metrics.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// Register adds a collector under a stable name. Registering the same name
// twice is an error; use the name to look the collector up instead.
func (r *Registry) Register(name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.known[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	if err := r.registry.Register(collector); err != nil {
		return fmt.Errorf("register metric %q: %w", name, err)
	}
	r.known[name] = collector
	return nil
}

// Lookup returns a previously registered collector by name.
func (r *Registry) Lookup(name string) (prometheus.Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.known[name]
	return c, ok
}

// Gatherer exposes the underlying registry for the exposition handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
