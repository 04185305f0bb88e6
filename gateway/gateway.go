// Package gateway exposes the HTTP API: reading ingestion, recency
// queries, a server-sent-events stream, and the health endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/health"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pipeline"
	"github.com/c360/sensorstream/reading"
	"github.com/c360/sensorstream/store"
)

// Query limits matching the ingestion API contract.
const (
	defaultLatestLimit  = 20
	maxLatestLimit      = 1000
	defaultHistoryLimit = 200
	maxHistoryLimit     = 5000

	// maxRequestSize bounds the ingestion request body.
	maxRequestSize = 1 << 20

	// sseKeepAlive is the interval between keep-alive comments on an
	// idle event stream.
	sseKeepAlive = 25 * time.Second
)

// GatewayDeps holds the runtime dependencies for the HTTP gateway.
type GatewayDeps struct {
	Name            string
	Port            int
	Ingestor        *pipeline.Ingestor
	Store           store.Store
	Broadcaster     *broadcast.Broadcaster
	Health          *health.Monitor
	Logger          *slog.Logger
	MetricsRegistry *metric.Registry
}

// Gateway serves the HTTP API for the ingestion pipeline.
type Gateway struct {
	name        string
	port        int
	ingestor    *pipeline.Ingestor
	store       store.Store
	broadcaster *broadcast.Broadcaster
	monitor     *health.Monitor
	logger      *slog.Logger

	server *http.Server

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Counters
	requestsTotal  atomic.Int64
	requestsFailed atomic.Int64
	bytesReceived  atomic.Int64
	bytesSent      atomic.Int64
	lastActivity   atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Gateway)(nil)
var _ component.LifecycleComponent = (*Gateway)(nil)

// NewGateway creates the HTTP gateway component.
func NewGateway(deps GatewayDeps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "http-gateway")
	}
	port := deps.Port
	if port == 0 {
		port = 8080
	}

	g := &Gateway{
		name:        deps.Name,
		port:        port,
		ingestor:    deps.Ingestor,
		store:       deps.Store,
		broadcaster: deps.Broadcaster,
		monitor:     deps.Health,
		logger:      logger,
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry),
	}
	g.lastActivity.Store(time.Time{})
	return g
}

// Meta returns the component metadata
func (g *Gateway) Meta() component.Metadata {
	name := g.name
	if name == "" {
		name = fmt.Sprintf("http-gateway-%d", g.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "gateway",
		Description: fmt.Sprintf("HTTP API on :%d for reading ingestion and queries", g.port),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (g *Gateway) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     time.Since(g.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (g *Gateway) DataFlow() component.FlowMetrics {
	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()
	bytes := g.bytesReceived.Load() + g.bytesSent.Load()
	lastActivity, _ := g.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(g.startTime).Seconds(); uptime > 0 {
		perSecond = float64(total) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the component wiring.
func (g *Gateway) Initialize() error {
	if g.ingestor == nil {
		return errors.WrapInvalid(fmt.Errorf("nil ingestor"),
			"http-gateway", "Initialize", "ingestor validation")
	}
	if g.store == nil {
		return errors.WrapInvalid(fmt.Errorf("nil store"),
			"http-gateway", "Initialize", "store validation")
	}
	if g.port < 0 || g.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", g.port),
			"http-gateway", "Initialize", "port validation")
	}
	return nil
}

// Handler returns the API routes. Exposed separately from Start so
// tests can drive the mux without binding a port.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/readings", g.handleIngest)
	mux.HandleFunc("GET /api/readings/latest", g.handleLatest)
	mux.HandleFunc("GET /api/readings/history/{sensorId}", g.handleHistory)
	mux.HandleFunc("GET /api/events", g.handleEvents)
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	return mux
}

// Start launches the HTTP server.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "http-gateway", "Start", "already running")
	}

	g.shutdown = make(chan struct{})
	g.done = make(chan struct{})

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.running.Store(true)
	g.startTime = time.Now()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(g.done)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.requestsFailed.Add(1)
			g.logger.Error("http gateway failed", "error", err)
		}
	}()

	g.logger.Info("http gateway listening", "port", g.port)
	return nil
}

// Stop shuts the server down, interrupting open event streams.
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	g.mu.Lock()
	select {
	case <-g.shutdown:
	default:
		close(g.shutdown)
	}
	server := g.server
	done := g.done
	g.mu.Unlock()

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
			"http-gateway", "Stop", "graceful shutdown")
	}
	return nil
}

// handleIngest accepts one structured reading and runs it through the
// canonical ingestion path.
func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	g.observe(r)
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxRequestSize))
		return
	}
	g.bytesReceived.Add(int64(len(body)))

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		g.writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	saved, err := g.ingestor.IngestFields(r.Context(), "http", fields)
	if err != nil {
		if rej, ok := pipeline.AsRejection(err); ok {
			if rej.Reason == pipeline.ReasonStoreFailed {
				g.logger.Error("ingestion persistence failed", "error", err)
				g.writeError(w, http.StatusInternalServerError, "failed to persist reading")
				return
			}
			g.writeError(w, http.StatusBadRequest, rej.Reason)
			return
		}
		g.logger.Error("ingestion failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	g.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"reading": saved,
	})
}

// handleLatest returns the most recent readings, optionally filtered to
// one sensor via ?sensorId=.
func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	g.observe(r)

	limit := parseLimit(r.URL.Query().Get("limit"), defaultLatestLimit, maxLatestLimit)

	var (
		readings []reading.Reading
		err      error
	)
	if raw := r.URL.Query().Get("sensorId"); raw != "" {
		sensorID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			g.writeError(w, http.StatusBadRequest, "sensorId must be an integer")
			return
		}
		readings, err = g.store.FindRecent(r.Context(), sensorID, limit)
	} else {
		readings, err = g.store.FindLatest(r.Context(), limit)
	}
	if err != nil {
		g.logger.Error("latest query failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	g.writeJSON(w, http.StatusOK, listResponse(readings))
}

// handleHistory returns recent readings for one sensor.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	g.observe(r)

	sensorID, perr := strconv.ParseInt(r.PathValue("sensorId"), 10, 64)
	if perr != nil {
		g.writeError(w, http.StatusBadRequest, "sensorId must be an integer")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultHistoryLimit, maxHistoryLimit)

	readings, err := g.store.FindRecent(r.Context(), sensorID, limit)
	if err != nil {
		g.logger.Error("history query failed", "sensor", sensorID, "error", err)
		g.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	g.writeJSON(w, http.StatusOK, listResponse(readings))
}

// handleEvents streams broadcast events over server-sent events. Each
// classified reading arrives as one `data:` frame; a comment line keeps
// idle connections alive.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	g.observe(r)

	if g.broadcaster == nil {
		g.writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sink := broadcast.NewChanSink(16)
	id := g.broadcaster.Subscribe(sink)
	defer g.broadcaster.Unsubscribe(id)

	if g.metrics != nil {
		g.metrics.sseClients.Inc()
		defer g.metrics.sseClients.Dec()
	}
	g.logger.Info("event stream client connected", "remote", r.RemoteAddr, "id", id)
	defer g.logger.Info("event stream client disconnected", "id", id)

	g.mu.Lock()
	shutdown := g.shutdown
	g.mu.Unlock()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case payload, ok := <-sink.C():
			if !ok {
				return
			}
			n, err := fmt.Fprintf(w, "data: %s\n\n", payload)
			if err != nil {
				return
			}
			flusher.Flush()
			g.bytesSent.Add(int64(n))
			g.lastActivity.Store(time.Now())
			if g.metrics != nil {
				g.metrics.sseEventsSent.Inc()
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-shutdown:
			return
		}
	}
}

// handleHealthz reports aggregated component health.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	g.observe(r)

	if g.monitor == nil {
		g.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
		return
	}

	status := g.monitor.AggregateHealth("sensorstream")
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// observe records request-level counters.
func (g *Gateway) observe(r *http.Request) {
	g.requestsTotal.Add(1)
	g.lastActivity.Store(time.Now())
	if g.metrics != nil {
		g.metrics.requestsTotal.WithLabelValues(r.Method, r.URL.Path).Inc()
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.requestsFailed.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	n, _ := w.Write(data)
	g.bytesSent.Add(int64(n))
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, message string) {
	g.requestsFailed.Add(1)
	if g.metrics != nil {
		g.metrics.requestsFailed.Inc()
	}
	g.writeJSON(w, code, map[string]any{
		"error":  message,
		"status": code,
	})
}

func listResponse(readings []reading.Reading) map[string]any {
	if readings == nil {
		readings = []reading.Reading{}
	}
	return map[string]any{
		"count":    len(readings),
		"readings": readings,
	}
}

// parseLimit clamps a limit query parameter to (0, max]; invalid or
// missing values fall back to def.
func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
