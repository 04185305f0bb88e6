package history

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/reading"
)

type stubFinder struct {
	readings map[int64][]reading.Reading
	err      error
	calls    int
}

func (s *stubFinder) FindRecent(_ context.Context, sensorID int64, limit int) ([]reading.Reading, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	rs := s.readings[sensorID]
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

func mkReadings(sensorID int64, values ...float64) []reading.Reading {
	out := make([]reading.Reading, len(values))
	for i, v := range values {
		out[i] = reading.New(sensorID, v, "", time.Now())
	}
	return out
}

func TestWindow_BaselineEmptyWithoutStore(t *testing.T) {
	w := NewWindow(5, nil)

	assert.Empty(t, w.Baseline(context.Background(), 1))
}

func TestWindow_SeedsFromStoreOnce(t *testing.T) {
	store := &stubFinder{readings: map[int64][]reading.Reading{
		1: mkReadings(1, 30.0, 20.0, 10.0),
	}}
	w := NewWindow(5, store)

	ctx := context.Background()
	assert.Equal(t, []float64{30.0, 20.0, 10.0}, w.Baseline(ctx, 1))
	assert.Equal(t, []float64{30.0, 20.0, 10.0}, w.Baseline(ctx, 1))
	assert.Equal(t, 1, store.calls)
}

func TestWindow_ObservePrependsNewest(t *testing.T) {
	w := NewWindow(5, nil)
	ctx := context.Background()

	w.Observe(ctx, reading.New(1, 10.0, "", time.Now()))
	w.Observe(ctx, reading.New(1, 20.0, "", time.Now()))
	w.Observe(ctx, reading.New(1, 30.0, "", time.Now()))

	assert.Equal(t, []float64{30.0, 20.0, 10.0}, w.Baseline(ctx, 1))
}

func TestWindow_EvictsBeyondCapacity(t *testing.T) {
	w := NewWindow(3, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		w.Observe(ctx, reading.New(1, float64(i), "", time.Now()))
	}

	assert.Equal(t, []float64{5, 4, 3}, w.Baseline(ctx, 1))
}

func TestWindow_FiltersCorruptValues(t *testing.T) {
	store := &stubFinder{readings: map[int64][]reading.Reading{
		1: {
			reading.New(1, 10.0, "", time.Now()),
			reading.New(1, math.NaN(), "", time.Now()),
			reading.New(1, math.Inf(1), "", time.Now()),
			reading.New(1, 20.0, "", time.Now()),
		},
	}}
	w := NewWindow(5, store)

	assert.Equal(t, []float64{10.0, 20.0}, w.Baseline(context.Background(), 1))
}

func TestWindow_ObserveIgnoresCorruptValues(t *testing.T) {
	w := NewWindow(5, nil)
	ctx := context.Background()

	w.Observe(ctx, reading.New(1, math.NaN(), "", time.Now()))
	assert.Empty(t, w.Baseline(ctx, 1))
}

func TestWindow_StoreErrorDegradesToEmpty(t *testing.T) {
	store := &stubFinder{err: fmt.Errorf("store down")}
	w := NewWindow(5, store)

	assert.Empty(t, w.Baseline(context.Background(), 1))
	// No retry storm: the failed seed is not repeated on every query
	assert.Empty(t, w.Baseline(context.Background(), 1))
	assert.Equal(t, 1, store.calls)
}

func TestWindow_PerSensorIsolation(t *testing.T) {
	w := NewWindow(5, nil)
	ctx := context.Background()

	w.Observe(ctx, reading.New(1, 1.0, "", time.Now()))
	w.Observe(ctx, reading.New(2, 2.0, "", time.Now()))

	assert.Equal(t, []float64{1.0}, w.Baseline(ctx, 1))
	assert.Equal(t, []float64{2.0}, w.Baseline(ctx, 2))
}

func TestWindow_Forget(t *testing.T) {
	store := &stubFinder{readings: map[int64][]reading.Reading{
		1: mkReadings(1, 10.0),
	}}
	w := NewWindow(5, store)
	ctx := context.Background()

	require.Equal(t, []float64{10.0}, w.Baseline(ctx, 1))
	w.Forget(1)
	require.Equal(t, []float64{10.0}, w.Baseline(ctx, 1))
	assert.Equal(t, 2, store.calls)
}

// stallingFinder blocks FindRecent for one sensor until released.
type stallingFinder struct {
	stallID int64
	release chan struct{}
}

func (s *stallingFinder) FindRecent(_ context.Context, sensorID int64, _ int) ([]reading.Reading, error) {
	if sensorID == s.stallID {
		<-s.release
	}
	return nil, nil
}

func TestWindow_SlowSeedDoesNotBlockOtherSensors(t *testing.T) {
	release := make(chan struct{})
	w := NewWindow(5, &stallingFinder{stallID: 1, release: release})
	ctx := context.Background()

	stalled := make(chan struct{})
	go func() {
		w.Baseline(ctx, 1)
		close(stalled)
	}()

	// Let the stalled seed take hold before touching the other sensor
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Observe(ctx, reading.New(2, 1.0, "", time.Now()))
		w.Baseline(ctx, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated sensor blocked behind a stalled seed")
	}

	close(release)
	select {
	case <-stalled:
	case <-time.After(time.Second):
		t.Fatal("stalled seed never finished")
	}
}

func TestWindow_ConcurrentAccess(t *testing.T) {
	w := NewWindow(50, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Observe(ctx, reading.New(1, float64(j), "", time.Now()))
				w.Baseline(ctx, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, w.Baseline(ctx, 1), 50)
}

func TestWindow_DefaultSize(t *testing.T) {
	w := NewWindow(0, nil)
	assert.Equal(t, DefaultSize, w.Size())
}
