package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/classifier"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/history"
	"github.com/c360/sensorstream/reading"
	"github.com/c360/sensorstream/store"
)

type captureSink struct {
	mu     sync.Mutex
	events [][]byte
}

func (s *captureSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, data)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fixedScorer struct {
	result classifier.ScoreResult
	err    error
}

func (f *fixedScorer) Score(context.Context, []float64, float64) (classifier.ScoreResult, error) {
	return f.result, f.err
}

func newIngestor(t *testing.T, mem *store.Memory, scorer classifier.Scorer) (*Ingestor, *broadcast.Broadcaster) {
	t.Helper()
	b := broadcast.New(nil, nil)
	t.Cleanup(b.Close)

	in, err := NewIngestor(Deps{
		Store:       mem,
		Window:      history.NewWindow(50, mem),
		Classifier:  classifier.New(scorer),
		Broadcaster: b,
	})
	require.NoError(t, err)
	return in, b
}

func TestIngestLine_CSVPersistsAndBroadcasts(t *testing.T) {
	mem := store.NewMemory(0)
	in, b := newIngestor(t, mem, nil)

	sink := &captureSink{}
	b.Subscribe(sink)

	saved, err := in.IngestLine(context.Background(), "serial", "1,25.4,2025-10-12T14:10:00Z,Factory A")
	require.NoError(t, err)

	assert.Equal(t, int64(1), saved.SensorID)
	assert.Equal(t, 25.4, saved.Value)
	assert.Equal(t, reading.StatusNormal, saved.Status)
	assert.Equal(t, 1, mem.Count())
	assert.Equal(t, 1, sink.count())
}

func TestIngestLine_GarbageIsRejected(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, nil)

	_, err := in.IngestLine(context.Background(), "serial", "garbage")
	require.Error(t, err)

	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDecodeFailed, rej.Reason)
	assert.Zero(t, mem.Count())
}

func TestIngestFields_RejectionReasons(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, nil)
	ctx := context.Background()

	_, err := in.IngestFields(ctx, "http", map[string]any{"value": 10.0})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingSensorID, rej.Reason)

	_, err = in.IngestFields(ctx, "http", map[string]any{"sensorId": "abc", "value": 10.0})
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingSensorID, rej.Reason)

	_, err = in.IngestFields(ctx, "http", map[string]any{"sensorId": "1", "value": "hot"})
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidValue, rej.Reason)

	assert.Zero(t, mem.Count())
}

func TestIngest_ClassifiesAgainstPriorBaseline(t *testing.T) {
	mem := store.NewMemory(0)
	b := broadcast.New(nil, nil)
	t.Cleanup(b.Close)

	in, err := NewIngestor(Deps{
		Store:      mem,
		Window:     history.NewWindow(50, mem),
		Classifier: classifier.New(&classifier.ZScoreScorer{}),
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Build a stable baseline around 20
	for i := 0; i < 10; i++ {
		_, err := in.IngestFields(ctx, "test", map[string]any{
			"sensorId": "1", "value": 20.0 + float64(i%3),
		})
		require.NoError(t, err)
	}

	saved, err := in.IngestFields(ctx, "test", map[string]any{"sensorId": "1", "value": 500.0})
	require.NoError(t, err)
	assert.Equal(t, reading.StatusAnomaly, saved.Status)
	require.NotNil(t, saved.Score)

	// The spike is persisted despite being anomalous
	recent, err := mem.FindRecent(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, reading.StatusAnomaly, recent[0].Status)
}

func TestIngest_FirstReadingHasNoBaseline(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, &fixedScorer{result: classifier.ScoreResult{Status: "Anomaly"}})

	saved, err := in.IngestFields(context.Background(), "test", map[string]any{"sensorId": "1", "value": 999.0})
	require.NoError(t, err)
	// Empty baseline fails open to Normal without consulting the scorer
	assert.Equal(t, reading.StatusNormal, saved.Status)
	assert.Nil(t, saved.Score)
}

func TestIngest_ScorerFailureStillPersists(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, &fixedScorer{err: fmt.Errorf("scorer down")})
	ctx := context.Background()

	_, err := in.IngestFields(ctx, "test", map[string]any{"sensorId": "1", "value": 10.0})
	require.NoError(t, err)

	saved, err := in.IngestFields(ctx, "test", map[string]any{"sensorId": "1", "value": 11.0})
	require.NoError(t, err)
	assert.Equal(t, reading.StatusNormal, saved.Status)
	assert.Nil(t, saved.Score)
	assert.Equal(t, 2, mem.Count())
}

func TestIngest_PersistenceFailureIsSurfaced(t *testing.T) {
	mem := store.NewMemory(0)
	in, b := newIngestor(t, mem, nil)

	sink := &captureSink{}
	b.Subscribe(sink)

	mem.FailNext(fmt.Errorf("disk full"))
	_, err := in.IngestFields(context.Background(), "test", map[string]any{"sensorId": "1", "value": 10.0})
	require.Error(t, err)

	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonStoreFailed, rej.Reason)

	// Nothing broadcast for a reading that was never persisted
	assert.Zero(t, sink.count())
}

func TestIngest_SharedPathForLineAndFields(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, nil)
	ctx := context.Background()

	fromLine, err := in.IngestLine(ctx, "serial", `{"id": "9", "val": 42.0, "time": "2025-10-12T14:10:00Z"}`)
	require.NoError(t, err)

	fromFields, err := in.IngestFields(ctx, "http", map[string]any{
		"sensor_id": "9", "value": 42.0, "timestamp": "2025-10-12T14:10:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, fromLine.SensorID, fromFields.SensorID)
	assert.Equal(t, fromLine.Value, fromFields.Value)
	assert.Equal(t, fromLine.Timestamp, fromFields.Timestamp)
}

func TestNewIngestor_RequiresStore(t *testing.T) {
	in, err := NewIngestor(Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.Nil(t, in)
}

func TestIngest_ConcurrentSources(t *testing.T) {
	mem := store.NewMemory(0)
	in, _ := newIngestor(t, mem, &fixedScorer{result: classifier.ScoreResult{Status: "Normal"}})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := in.IngestFields(ctx, "test", map[string]any{
					"sensorId": n + 1,
					"value":    float64(j),
					"time":     time.Now().Format(time.RFC3339Nano),
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, mem.Count())
}
