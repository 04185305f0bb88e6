// Package history maintains the per-sensor rolling baseline consulted by
// the classifier.
package history

import (
	"context"
	"math"
	"sync"

	"github.com/c360/sensorstream/reading"
)

// DefaultSize is the number of prior values kept per sensor.
const DefaultSize = 50

// RecentFinder is the slice of the store the window needs for seeding,
// returning up to limit readings for a sensor, most recent first.
type RecentFinder interface {
	FindRecent(ctx context.Context, sensorID int64, limit int) ([]reading.Reading, error)
}

// Window keeps a bounded, most-recent-first value window per sensor.
//
// The window is an in-memory optimization over the store: on the first
// query for a sensor it is seeded from the store's recent readings, after
// which Observe maintains it incrementally. Callers always see the N most
// recent prior values, never the value currently being classified.
type Window struct {
	size  int
	store RecentFinder

	// mu guards the sensors map only; each entry carries its own lock
	// so sensors stay independent of each other
	mu      sync.Mutex
	sensors map[int64]*entry
}

// entry is one sensor's window. Seeding runs under the entry's once, so
// a slow store read for one sensor never holds up any other.
type entry struct {
	seedOnce sync.Once
	mu       sync.Mutex
	values   []float64
}

// NewWindow creates a window of the given size. A nil store is allowed;
// the window then starts empty for every sensor.
func NewWindow(size int, store RecentFinder) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{
		size:    size,
		store:   store,
		sensors: make(map[int64]*entry),
	}
}

// Size returns the configured window capacity.
func (w *Window) Size() int {
	return w.size
}

// Baseline returns the sensor's prior values, most recent first. Corrupt
// stored values are filtered out silently; they shrink the baseline, down
// to empty if nothing usable remains. A store read failure also degrades
// to an empty baseline rather than stalling classification.
func (w *Window) Baseline(ctx context.Context, sensorID int64) []float64 {
	e := w.entryFor(sensorID)
	w.seed(ctx, sensorID, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]float64, len(e.values))
	copy(out, e.values)
	return out
}

// Observe records a persisted reading as the newest prior value for its
// sensor, evicting the oldest once the window is full.
func (w *Window) Observe(ctx context.Context, r reading.Reading) {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return
	}

	e := w.entryFor(r.SensorID)
	w.seed(ctx, r.SensorID, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.values = append([]float64{r.Value}, e.values...)
	if len(e.values) > w.size {
		e.values = e.values[:w.size]
	}
}

// Forget drops the in-memory window for a sensor, forcing a reseed from
// the store on next access.
func (w *Window) Forget(sensorID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.sensors, sensorID)
}

func (w *Window) entryFor(sensorID int64) *entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.sensors[sensorID]
	if !ok {
		e = &entry{}
		w.sensors[sensorID] = e
	}
	return e
}

// seed fills a fresh entry from the store exactly once. The store call
// runs with no lock held; concurrent callers for the same sensor wait on
// the entry's once while other sensors proceed untouched. A failed seed
// is not retried.
func (w *Window) seed(ctx context.Context, sensorID int64, e *entry) {
	e.seedOnce.Do(func() {
		if w.store == nil {
			return
		}

		recent, err := w.store.FindRecent(ctx, sensorID, w.size)
		if err != nil {
			return
		}

		values := make([]float64, 0, len(recent))
		for _, r := range recent {
			if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
				continue
			}
			values = append(values, r.Value)
			if len(values) == w.size {
				break
			}
		}

		e.mu.Lock()
		e.values = values
		e.mu.Unlock()
	})
}
