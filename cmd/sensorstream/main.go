// Package main implements the entry point for the sensorstream service.
// sensorstream ingests raw sensor lines and structured readings, scores
// them against a per-sensor rolling baseline, persists them, and fans
// classified readings out to live subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/classifier"
	"github.com/c360/sensorstream/component"
	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/gateway"
	"github.com/c360/sensorstream/health"
	"github.com/c360/sensorstream/history"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/natsclient"
	"github.com/c360/sensorstream/output/websocket"
	"github.com/c360/sensorstream/pipeline"
	"github.com/c360/sensorstream/pkg/retry"
	"github.com/c360/sensorstream/store"
	"github.com/c360/sensorstream/transport"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "sensorstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting sensorstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runPipeline(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig reads the config file if given, otherwise uses defaults,
// then applies CLI logging overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	return cfg, nil
}

// runPipeline wires every component, runs until ctx is cancelled, then
// shuts down in reverse order.
func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry, err := metric.NewRegistry()
	if err != nil {
		return fmt.Errorf("create metrics registry: %w", err)
	}
	monitor := health.NewMonitor()

	st, natsClient, err := setupStore(ctx, cfg, logger, registry, monitor)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = natsClient.Close(closeCtx)
		}()
	}

	broadcaster := broadcast.New(logger.With("component", "broadcaster"), registry.Metrics())
	defer broadcaster.Close()

	ingestor, err := pipeline.NewIngestor(pipeline.Deps{
		Store:       st,
		Window:      history.NewWindow(cfg.History.WindowSize, st),
		Classifier:  setupClassifier(cfg, logger),
		Broadcaster: broadcaster,
		Logger:      logger.With("component", "pipeline"),
		Metrics:     registry.Metrics(),
	})
	if err != nil {
		return fmt.Errorf("create ingestor: %w", err)
	}

	components, err := buildComponents(cfg, logger, registry, monitor, ingestor, st, broadcaster)
	if err != nil {
		return err
	}

	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Meta().Name, err)
		}
	}
	started := make([]component.LifecycleComponent, 0, len(components))
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			stopAll(started, shutdownTimeout, logger)
			return fmt.Errorf("start %s: %w", c.Meta().Name, err)
		}
		started = append(started, c)
		monitor.UpdateHealthy(c.Meta().Name, "running")
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		g.Go(func() error {
			logger.Info("metrics endpoint listening",
				"port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			return metricsServer.Start()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if metricsServer != nil {
			_ = metricsServer.Stop()
		}
		return nil
	})

	<-gctx.Done()
	logger.Info("shutting down", "timeout", shutdownTimeout)

	stopAll(started, shutdownTimeout, logger)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// setupStore selects JetStream persistence when a NATS URL is
// configured, otherwise the in-memory store.
func setupStore(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.Registry,
	monitor *health.Monitor,
) (store.Store, *natsclient.Client, error) {
	if cfg.NATS.URL == "" {
		logger.Info("no NATS url configured, using in-memory store")
		monitor.UpdateDegraded("store", "in-memory store, readings are not durable")
		return store.NewMemory(cfg.NATS.MaxPerSensor), nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithStatusCallback(func(connected bool) {
			registry.Metrics().RecordNATSStatus(connected)
			if connected {
				monitor.UpdateHealthy("store", "connected to NATS")
			} else {
				monitor.UpdateUnhealthy("store", "NATS connection lost")
			}
		}),
		natsclient.WithReconnectCallback(func() {
			registry.Metrics().RecordNATSReconnect()
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	// Stream creation can race the broker finishing its own startup
	st, err := retry.DoWithResult(ctx, retry.Quick(), func() (*store.JetStream, error) {
		return store.NewJetStream(ctx, client, cfg.NATS.MaxPerSensor)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create JetStream store: %w", err)
	}
	monitor.UpdateHealthy("store", "connected to NATS")
	return st, client, nil
}

// setupClassifier builds the configured scorer behind the fail-open
// classifier.
func setupClassifier(cfg *config.Config, logger *slog.Logger) *classifier.Classifier {
	var scorer classifier.Scorer
	switch cfg.Scoring.Scorer {
	case config.ScorerHTTP:
		scorer = classifier.NewHTTPScorer(cfg.Scoring.URL)
	default:
		scorer = &classifier.ZScoreScorer{Threshold: cfg.Scoring.Threshold}
	}
	return classifier.New(scorer,
		classifier.WithTimeout(cfg.Scoring.Timeout()),
		classifier.WithLogger(logger.With("component", "classifier")))
}

// buildComponents assembles the lifecycle components in start order:
// transport first so readings flow as soon as the API is up.
func buildComponents(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.Registry,
	monitor *health.Monitor,
	ingestor *pipeline.Ingestor,
	st store.Store,
	broadcaster *broadcast.Broadcaster,
) ([]component.LifecycleComponent, error) {
	dialer, err := transport.NewDialer(cfg.Transport.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport endpoint: %w", err)
	}

	components := []component.LifecycleComponent{
		transport.NewReader(transport.ReaderDeps{
			Name:            "transport-reader",
			Dialer:          dialer,
			Ingestor:        ingestor,
			Backoff:         cfg.Transport.Backoff(),
			Logger:          logger.With("component", "transport"),
			MetricsRegistry: registry,
		}),
		gateway.NewGateway(gateway.GatewayDeps{
			Name:            "http-gateway",
			Port:            cfg.HTTP.Port,
			Ingestor:        ingestor,
			Store:           st,
			Broadcaster:     broadcaster,
			Health:          monitor,
			Logger:          logger.With("component", "gateway"),
			MetricsRegistry: registry,
		}),
	}

	if cfg.WebSocket.Enabled {
		components = append(components, websocket.NewOutput(websocket.OutputDeps{
			Name:            "websocket-output",
			Port:            cfg.WebSocket.Port,
			Path:            cfg.WebSocket.Path,
			Broadcaster:     broadcaster,
			Logger:          logger.With("component", "websocket"),
			MetricsRegistry: registry,
		}))
	}

	return components, nil
}

// stopAll stops components in reverse start order.
func stopAll(components []component.LifecycleComponent, timeout time.Duration, logger *slog.Logger) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(timeout); err != nil {
			logger.Warn("component stop failed", "component", c.Meta().Name, "error", err)
		}
	}
}
