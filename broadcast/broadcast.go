// Package broadcast fans classified readings out to live subscribers.
//
// Delivery is best-effort and at-most-once per subscriber: a sink that
// fails a write is removed and the remaining sinks still get the event.
// Publishing never blocks ingestion on a slow subscriber.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/sensorstream/metric"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Sink receives serialized events for one subscriber. Send must be safe
// for concurrent use; a returned error means the sink is dead and will be
// removed.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// Broadcaster distributes events to all registered sinks.
type Broadcaster struct {
	logger  *slog.Logger
	metrics *metric.Metrics

	mu    sync.RWMutex
	sinks map[string]Sink
}

// New creates a Broadcaster. metrics may be nil.
func New(logger *slog.Logger, metrics *metric.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:  logger,
		metrics: metrics,
		sinks:   make(map[string]Sink),
	}
}

// Subscribe registers a sink and returns its subscriber id.
func (b *Broadcaster) Subscribe(sink Sink) string {
	id := uuid.New().String()

	b.mu.Lock()
	b.sinks[id] = sink
	count := len(b.sinks)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SubscribersConnected.Set(float64(count))
	}
	b.logger.Debug("subscriber added", "id", id, "total", count)
	return id
}

// Unsubscribe removes and closes a sink. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sink, ok := b.sinks[id]
	if ok {
		delete(b.sinks, id)
	}
	count := len(b.sinks)
	b.mu.Unlock()

	if !ok {
		return
	}
	_ = sink.Close()

	if b.metrics != nil {
		b.metrics.SubscribersConnected.Set(float64(count))
	}
	b.logger.Debug("subscriber removed", "id", id, "total", count)
}

// Count returns the number of registered sinks.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Publish serializes the event once and delivers it to every sink.
// Failed sinks are dropped; delivery to the others continues. The error
// count is returned for observability but publishing itself never fails.
func (b *Broadcaster) Publish(event string, data any) int {
	payload, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		b.logger.Error("failed to marshal broadcast event", "event", event, "error", err)
		return 0
	}
	return b.publishRaw(payload)
}

func (b *Broadcaster) publishRaw(payload []byte) int {
	// Snapshot under read lock so sends happen without holding it
	b.mu.RLock()
	snapshot := make(map[string]Sink, len(b.sinks))
	for id, sink := range b.sinks {
		snapshot[id] = sink
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventsPublished.Inc()
	}

	var failed []string
	for id, sink := range snapshot {
		if err := sink.Send(payload); err != nil {
			b.logger.Warn("sink write failed, removing subscriber", "id", id, "error", err)
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		b.Unsubscribe(id)
		if b.metrics != nil {
			b.metrics.SinkFailures.Inc()
		}
	}
	return len(failed)
}

// Close unsubscribes every sink.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = make(map[string]Sink)
	b.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Close()
	}
	if b.metrics != nil {
		b.metrics.SubscribersConnected.Set(0)
	}
}
