package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pipeline"
	"github.com/c360/sensorstream/reading"
)

type stubIngestor struct {
	mu    sync.Mutex
	lines []string
	seen  chan string
}

func newStubIngestor() *stubIngestor {
	return &stubIngestor{seen: make(chan string, 64)}
}

func (s *stubIngestor) IngestLine(_ context.Context, _, line string) (reading.Reading, error) {
	if strings.HasPrefix(line, "garbage") {
		return reading.Reading{}, &pipeline.Rejection{Reason: pipeline.ReasonDecodeFailed}
	}
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
	s.seen <- line
	return reading.New(1, 1.0, "", time.Now()), nil
}

func (s *stubIngestor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// scriptDialer hands out a fixed sequence of streams, then fails.
type scriptDialer struct {
	mu      sync.Mutex
	streams []io.ReadCloser
	calls   int
}

func (d *scriptDialer) Dial(context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.streams) == 0 {
		return nil, fmt.Errorf("no more streams")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

func (d *scriptDialer) Endpoint() string { return "script://test" }

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func stream(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func TestReader_DisabledWithoutEndpoint(t *testing.T) {
	r := NewReader(ReaderDeps{Ingestor: newStubIngestor()})

	require.NoError(t, r.Initialize())
	require.NoError(t, r.Start(context.Background()))

	assert.Equal(t, StateDisabled, r.State())
	assert.True(t, r.Health().Healthy)
	assert.NoError(t, r.Stop(time.Second))
}

func TestReader_ReadsLinesFromStream(t *testing.T) {
	ing := newStubIngestor()
	r := NewReader(ReaderDeps{
		Dialer:   &scriptDialer{streams: []io.ReadCloser{stream("1,25.4", "2,19.1")}},
		Ingestor: ing,
		Backoff:  10 * time.Millisecond,
	})
	require.NoError(t, r.Initialize())
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(time.Second) }()

	waitFor(t, ing.seen, "1,25.4")
	waitFor(t, ing.seen, "2,19.1")
}

func TestReader_ReopensAfterStreamCloses(t *testing.T) {
	ing := newStubIngestor()
	d := &scriptDialer{streams: []io.ReadCloser{
		stream("first"),
		stream("second"),
	}}
	r := NewReader(ReaderDeps{Dialer: d, Ingestor: ing, Backoff: 10 * time.Millisecond})
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(time.Second) }()

	waitFor(t, ing.seen, "first")
	// Stream one hit EOF; the reader must reopen and keep going
	waitFor(t, ing.seen, "second")
	assert.GreaterOrEqual(t, d.dialCount(), 2)
}

func TestReader_RetriesAfterDialFailure(t *testing.T) {
	ing := newStubIngestor()
	d := &failThenSucceedDialer{failures: 2, stream: stream("after-retries")}
	r := NewReader(ReaderDeps{Dialer: d, Ingestor: ing, Backoff: 10 * time.Millisecond})
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(time.Second) }()

	waitFor(t, ing.seen, "after-retries")
	assert.Equal(t, 3, d.dialCount())
}

type failThenSucceedDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	stream   io.ReadCloser
}

func (d *failThenSucceedDialer) Dial(context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, fmt.Errorf("connection refused")
	}
	return d.stream, nil
}

func (d *failThenSucceedDialer) Endpoint() string { return "fail://test" }

func (d *failThenSucceedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestReader_GarbageLinesAreDroppedGoodLinesContinue(t *testing.T) {
	ing := newStubIngestor()
	r := NewReader(ReaderDeps{
		Dialer:   &scriptDialer{streams: []io.ReadCloser{stream("garbage-1", "good-1", "garbage-2", "good-2")}},
		Ingestor: ing,
		Backoff:  10 * time.Millisecond,
	})
	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop(time.Second) }()

	waitFor(t, ing.seen, "good-1")
	waitFor(t, ing.seen, "good-2")
	assert.Equal(t, 2, ing.count())
}

func TestReader_StopUnblocksOpenStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ing := newStubIngestor()
	r := NewReader(ReaderDeps{
		Dialer:   &scriptDialer{streams: []io.ReadCloser{pr}},
		Ingestor: ing,
		Backoff:  10 * time.Millisecond,
	})
	require.NoError(t, r.Start(context.Background()))

	_, err := pw.Write([]byte("live-line\n"))
	require.NoError(t, err)
	waitFor(t, ing.seen, "live-line")
	assert.Equal(t, StateOpen, r.State())

	// Stop must close the stream and return promptly even though the
	// reader is blocked on a read
	require.NoError(t, r.Stop(2*time.Second))
}

func TestReader_SecondStartIsRejected(t *testing.T) {
	r := NewReader(ReaderDeps{
		Dialer:   &scriptDialer{},
		Ingestor: newStubIngestor(),
		Backoff:  10 * time.Millisecond,
	})
	require.NoError(t, r.Start(context.Background()))

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, r.Stop(time.Second))
}

func TestReader_InitializeRequiresIngestor(t *testing.T) {
	r := NewReader(ReaderDeps{Dialer: &scriptDialer{}})
	assert.Error(t, r.Initialize())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disabled", StateDisabled.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "open", StateOpen.String())
}
