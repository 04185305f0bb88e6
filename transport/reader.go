package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pipeline"
	"github.com/c360/sensorstream/reading"
)

// DefaultBackoff is the fixed delay between reopen attempts.
const DefaultBackoff = 5 * time.Second

// Source is the source label readings ingested from the transport carry.
const Source = "transport"

// State is the reader's connection state.
type State int32

// Reader states. A reader without an endpoint stays Disabled; otherwise it
// cycles Closed -> Opening -> Open -> Closed until shutdown.
const (
	StateDisabled State = iota
	StateClosed
	StateOpening
	StateOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// LineIngestor consumes decoded transport lines. *pipeline.Ingestor
// satisfies this.
type LineIngestor interface {
	IngestLine(ctx context.Context, source, line string) (reading.Reading, error)
}

// ReaderDeps holds runtime dependencies for the transport reader.
type ReaderDeps struct {
	Name            string
	Dialer          Dialer // nil means no endpoint configured
	Ingestor        LineIngestor
	Backoff         time.Duration
	Logger          *slog.Logger
	MetricsRegistry *metric.Registry
}

// Reader reads lines from the dialed stream and pushes each through the
// ingestion pipeline. It reconnects with a fixed backoff forever; only
// shutdown stops it. With no dialer configured it is inert and logs its
// disabled status once.
type Reader struct {
	name     string
	dialer   Dialer
	ingestor LineIngestor
	backoff  time.Duration
	logger   *slog.Logger

	// Rate limit for malformed-line logging so a flood of garbage does
	// not drown the log
	decodeLogLimiter *rate.Limiter

	// Lifecycle management
	state     atomic.Int32
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	stream    io.Closer

	// Counters
	linesRead    atomic.Int64
	bytesRead    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Reader)(nil)
var _ component.LifecycleComponent = (*Reader)(nil)

// NewReader creates a transport reader.
func NewReader(deps ReaderDeps) *Reader {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	r := &Reader{
		name:             deps.Name,
		dialer:           deps.Dialer,
		ingestor:         deps.Ingestor,
		backoff:          backoff,
		logger:           logger,
		decodeLogLimiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
		startTime:        time.Now(),
		metrics:          newMetrics(deps.MetricsRegistry),
	}
	r.lastActivity.Store(time.Time{})
	if deps.Dialer == nil {
		r.state.Store(int32(StateDisabled))
	} else {
		r.state.Store(int32(StateClosed))
	}
	return r
}

// State returns the current connection state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
}

// Meta returns the component metadata
func (r *Reader) Meta() component.Metadata {
	name := r.name
	if name == "" {
		name = "transport-reader"
	}
	endpoint := "none"
	if r.dialer != nil {
		endpoint = r.dialer.Endpoint()
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("Line reader for %s feeding the ingestion pipeline", endpoint),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (r *Reader) Health() component.HealthStatus {
	state := r.State()
	healthy := state == StateOpen || state == StateDisabled

	lastError := ""
	if !healthy {
		lastError = "transport " + state.String()
	}

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(r.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (r *Reader) DataFlow() component.FlowMetrics {
	lines := r.linesRead.Load()
	bytes := r.bytesRead.Load()
	errCount := r.errorCount.Load()
	lastActivity, _ := r.lastActivity.Load().(time.Time)

	var linesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(r.startTime).Seconds(); uptime > 0 {
		linesPerSecond = float64(lines) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if lines > 0 {
		errorRate = float64(errCount) / float64(lines)
	}

	return component.FlowMetrics{
		MessagesPerSecond: linesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the reader's wiring.
func (r *Reader) Initialize() error {
	if r.dialer != nil && r.ingestor == nil {
		return errors.WrapInvalid(fmt.Errorf("nil ingestor"),
			"transport", "Initialize", "ingestor validation")
	}
	return nil
}

// Start begins the read loop. Without an endpoint the reader logs its
// disabled state once and does nothing further.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "transport", "Start", "reader already running")
	}

	if r.dialer == nil {
		r.logger.Info("no transport endpoint configured, reader disabled")
		return nil
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)
	r.startTime = time.Now()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.run(ctx)
	}()

	return nil
}

// Stop shuts the reader down, closing any open stream.
func (r *Reader) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	r.mu.Lock()
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
	}
	if r.stream != nil {
		_ = r.stream.Close()
	}
	done := r.done
	r.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"transport", "Stop", "graceful shutdown")
		}
	}
	return nil
}

// run is the reconnect loop: Opening -> Open -> Closed, reopening after a
// fixed backoff, indefinitely.
func (r *Reader) run(ctx context.Context) {
	first := true
	for r.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		default:
		}

		r.setState(StateOpening)
		if !first && r.metrics != nil {
			r.metrics.reconnects.Inc()
		}
		first = false

		stream, err := r.dialer.Dial(ctx)
		if err != nil {
			r.errorCount.Add(1)
			r.setState(StateClosed)
			r.logger.Warn("transport open failed, retrying",
				"endpoint", r.dialer.Endpoint(), "backoff", r.backoff, "error", err)
			if !r.sleep(ctx) {
				return
			}
			continue
		}

		r.setStream(stream)
		r.setState(StateOpen)
		if r.metrics != nil {
			r.metrics.connected.Set(1)
		}
		r.logger.Info("transport open", "endpoint", r.dialer.Endpoint())

		r.consume(ctx, stream)

		r.setStream(nil)
		_ = stream.Close()
		r.setState(StateClosed)
		if r.metrics != nil {
			r.metrics.connected.Set(0)
		}

		if !r.running.Load() {
			return
		}
		r.logger.Warn("transport closed, reopening",
			"endpoint", r.dialer.Endpoint(), "backoff", r.backoff)
		if !r.sleep(ctx) {
			return
		}
	}
}

// consume reads lines until the stream errors or closes.
func (r *Reader) consume(ctx context.Context, stream io.Reader) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		r.linesRead.Add(1)
		r.bytesRead.Add(int64(len(line)))
		now := time.Now()
		r.lastActivity.Store(now)
		if r.metrics != nil {
			r.metrics.linesReceived.Inc()
			r.metrics.bytesReceived.Add(float64(len(line)))
			r.metrics.lastActivity.Set(float64(now.Unix()))
		}

		r.handleLine(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		r.errorCount.Add(1)
		r.logger.Warn("transport read error", "error", err)
	}
}

// handleLine pushes one line through the pipeline. Malformed lines are
// dropped; a persistence failure is logged but cannot stop the reader.
func (r *Reader) handleLine(ctx context.Context, line string) {
	saved, err := r.ingestor.IngestLine(ctx, Source, line)
	if err == nil {
		r.logger.Debug("reading ingested",
			"sensor", saved.SensorID, "value", saved.Value, "status", saved.Status)
		return
	}

	r.errorCount.Add(1)

	if rej, ok := pipeline.AsRejection(err); ok && rej.Reason != pipeline.ReasonStoreFailed {
		if r.metrics != nil {
			r.metrics.decodeFailures.Inc()
		}
		if r.decodeLogLimiter.Allow() {
			r.logger.Warn("dropping unparsable line", "reason", rej.Reason, "line", truncate(line, 120))
		}
		return
	}

	r.logger.Error("failed to ingest transport line", "error", err)
}

// sleep waits out the backoff; false means shutdown arrived first.
func (r *Reader) sleep(ctx context.Context) bool {
	timer := time.NewTimer(r.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-r.shutdown:
		return false
	case <-timer.C:
		return true
	}
}

func (r *Reader) setStream(c io.Closer) {
	r.mu.Lock()
	r.stream = c
	r.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
