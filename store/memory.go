package store

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/reading"
)

// Memory is an in-process Store used for tests and single-node runs
// without a broker. Readings are kept newest-first per sensor.
type Memory struct {
	mu       sync.RWMutex
	bySensor map[int64][]reading.Reading
	maxPer   int

	// failNext forces the next Save to fail, for exercising the
	// persistence failure path in tests
	failNext error
}

// NewMemory creates an empty in-memory store. maxPerSensor bounds how many
// readings are retained per sensor; zero means unbounded.
func NewMemory(maxPerSensor int) *Memory {
	return &Memory{
		bySensor: make(map[int64][]reading.Reading),
		maxPer:   maxPerSensor,
	}
}

// FailNext makes the next Save return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, r reading.Reading) (reading.Reading, error) {
	if err := r.Validate(); err != nil {
		return reading.Reading{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return reading.Reading{}, errors.WrapTransient(err, "Memory", "Save", "save reading")
	}

	rs := m.bySensor[r.SensorID]
	// Insert keeping newest-first order; readings usually arrive in order
	// so this is a prepend in the common case
	idx := sort.Search(len(rs), func(i int) bool {
		return !rs[i].Timestamp.After(r.Timestamp)
	})
	rs = append(rs, reading.Reading{})
	copy(rs[idx+1:], rs[idx:])
	rs[idx] = r

	if m.maxPer > 0 && len(rs) > m.maxPer {
		rs = rs[:m.maxPer]
	}
	m.bySensor[r.SensorID] = rs

	return r, nil
}

// FindRecent implements Store.
func (m *Memory) FindRecent(_ context.Context, sensorID int64, limit int) ([]reading.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.bySensor[sensorID]
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	out := make([]reading.Reading, len(rs))
	copy(out, rs)
	return out, nil
}

// FindLatest implements Store.
func (m *Memory) FindLatest(_ context.Context, limit int) ([]reading.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []reading.Reading
	for _, rs := range m.bySensor {
		all = append(all, rs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the total number of stored readings.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rs := range m.bySensor {
		n += len(rs)
	}
	return n
}
