// Package websocket serves classified readings to WebSocket clients.
//
// Each connected client is registered as a broadcast sink; delivery is
// at-most-once, and a client whose write fails is dropped without
// affecting the others.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
)

// OutputDeps holds runtime dependencies for the WebSocket output.
type OutputDeps struct {
	Name            string
	Port            int
	Path            string
	Broadcaster     *broadcast.Broadcaster
	Logger          *slog.Logger
	MetricsRegistry *metric.Registry
}

// Output runs a WebSocket server whose clients receive every broadcast
// event.
type Output struct {
	name        string
	port        int
	path        string
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Counters
	clientsServed atomic.Int64
	messagesSent  atomic.Int64
	bytesSent     atomic.Int64
	errorCount    atomic.Int64
	lastActivity  atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// pingInterval is how often idle client connections are pinged.
const pingInterval = 30 * time.Second

// NewOutput creates a WebSocket output component.
func NewOutput(deps OutputDeps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "websocket-output")
	}
	path := deps.Path
	if path == "" {
		path = "/ws"
	}
	port := deps.Port
	if port == 0 {
		port = 8081
	}

	o := &Output{
		name:        deps.Name,
		port:        port,
		path:        path,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Readings are not sensitive; any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry),
	}
	o.lastActivity.Store(time.Time{})
	return o
}

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	name := o.name
	if name == "" {
		name = fmt.Sprintf("websocket-output-%d", o.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket server on :%d%s streaming classified readings", o.port, o.path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (o *Output) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    o.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	sent := o.messagesSent.Load()
	bytes := o.bytesSent.Load()
	errCount := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		perSecond = float64(sent) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if sent > 0 {
		errorRate = float64(errCount) / float64(sent)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the component wiring.
func (o *Output) Initialize() error {
	if o.broadcaster == nil {
		return errors.WrapInvalid(fmt.Errorf("nil broadcaster"),
			"websocket-output", "Initialize", "broadcaster validation")
	}
	if o.port < 0 || o.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", o.port),
			"websocket-output", "Initialize", "port validation")
	}
	return nil
}

// Start launches the WebSocket server.
func (o *Output) Start(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-output", "Start", "already running")
	}

	o.shutdown = make(chan struct{})
	o.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(o.path, o.handleClient)

	o.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", o.port),
		Handler: mux,
	}

	o.running.Store(true)
	o.startTime = time.Now()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(o.done)
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.errorCount.Add(1)
			o.logger.Error("websocket server failed", "error", err)
		}
	}()

	o.logger.Info("websocket output listening", "port", o.port, "path", o.path)
	return nil
}

// Stop shuts the server down, closing all client connections.
func (o *Output) Stop(timeout time.Duration) error {
	if !o.running.Load() {
		return nil
	}
	o.running.Store(false)

	o.mu.Lock()
	select {
	case <-o.shutdown:
	default:
		close(o.shutdown)
	}
	server := o.server
	done := o.done
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"websocket-output", "Stop", "graceful shutdown")
	}
	return nil
}

// handleClient upgrades the connection and wires it into the broadcaster.
func (o *Output) handleClient(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.errorCount.Add(1)
		o.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &wsSink{conn: conn, output: o, stop: make(chan struct{})}
	id := o.broadcaster.Subscribe(client)
	o.clientsServed.Add(1)
	if o.metrics != nil {
		o.metrics.clientsConnected.Inc()
	}
	o.logger.Info("websocket client connected", "remote", r.RemoteAddr, "id", id)

	// Periodic pings keep intermediaries from timing out idle streams
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-client.stop:
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			}
		}
	}()

	// Drain the read side to observe client close; subscribers do not
	// send application data
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.broadcaster.Unsubscribe(id)
			if o.metrics != nil {
				o.metrics.clientsConnected.Dec()
			}
			o.logger.Info("websocket client disconnected", "id", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// wsSink adapts one WebSocket connection to the broadcast.Sink interface.
type wsSink struct {
	conn      *websocket.Conn
	output    *Output
	stop      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// ping sends a control ping under the write lock.
func (s *wsSink) ping() error {
	if s.closed.Load() {
		return errors.ErrSinkClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Send implements broadcast.Sink.
func (s *wsSink) Send(data []byte) error {
	if s.closed.Load() {
		return errors.ErrSinkClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.output.errorCount.Add(1)
		return errors.WrapTransient(err, "wsSink", "Send", "write message")
	}

	s.output.messagesSent.Add(1)
	s.output.bytesSent.Add(int64(len(data)))
	s.output.lastActivity.Store(time.Now())
	if s.output.metrics != nil {
		s.output.metrics.messagesSent.Inc()
		s.output.metrics.bytesSent.Add(float64(len(data)))
	}
	return nil
}

// Close implements broadcast.Sink.
func (s *wsSink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		deadline := time.Now().Add(time.Second)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}
