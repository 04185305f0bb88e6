// Package config loads and validates the application configuration.
//
// Configuration is a single JSON document validated against an embedded
// JSON Schema before any defaults are inspected, so a malformed file
// fails fast with field-level messages.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/sensorstream/errors"
)

// Scorer selection constants.
const (
	ScorerZScore = "zscore"
	ScorerHTTP   = "http"
)

// maxConfigSize bounds the config file to keep pathological inputs out
// of the JSON parser.
const maxConfigSize = 1 << 20

// Config is the complete application configuration.
type Config struct {
	Transport TransportConfig `json:"transport"`
	NATS      NATSConfig      `json:"nats"`
	History   HistoryConfig   `json:"history"`
	Scoring   ScoringConfig   `json:"scoring"`
	HTTP      HTTPConfig      `json:"http"`
	WebSocket WebSocketConfig `json:"websocket"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
}

// TransportConfig describes the raw line source. An empty endpoint
// leaves the transport reader disabled.
type TransportConfig struct {
	Endpoint  string `json:"endpoint"`
	BackoffMS int    `json:"backoff_ms"`
}

// Backoff returns the reconnect delay.
func (t TransportConfig) Backoff() time.Duration {
	if t.BackoffMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.BackoffMS) * time.Millisecond
}

// NATSConfig describes the JetStream persistence backend. An empty URL
// selects the in-memory store.
type NATSConfig struct {
	URL          string `json:"url"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Token        string `json:"token"`
	MaxPerSensor int    `json:"max_per_sensor"`
}

// HistoryConfig controls the per-sensor rolling baseline.
type HistoryConfig struct {
	WindowSize int `json:"window_size"`
}

// ScoringConfig selects and tunes the anomaly scorer.
type ScoringConfig struct {
	Scorer    string  `json:"scorer"`
	Threshold float64 `json:"threshold"`
	URL       string  `json:"url"`
	TimeoutMS int     `json:"timeout_ms"`
}

// Timeout returns the classification deadline.
func (s ScoringConfig) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// HTTPConfig describes the API gateway listener.
type HTTPConfig struct {
	Port int `json:"port"`
}

// WebSocketConfig describes the WebSocket output listener.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// MetricsConfig describes the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{BackoffMS: 5000},
		NATS:      NATSConfig{Name: "sensorstream", MaxPerSensor: 10000},
		History:   HistoryConfig{WindowSize: 50},
		Scoring:   ScoringConfig{Scorer: ScorerZScore, Threshold: 3.0, TimeoutMS: 5000},
		HTTP:      HTTPConfig{Port: 8080},
		WebSocket: WebSocketConfig{Enabled: true, Port: 8081, Path: "/ws"},
		Metrics:   MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads, schema-validates, and parses a configuration file, then
// fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
	}
	return Parse(data)
}

// Parse validates raw JSON against the configuration schema and decodes
// it, filling unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode config")
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields an explicit config set to
// their zero value.
func (c *Config) applyDefaults() {
	def := Default()
	if c.History.WindowSize <= 0 {
		c.History.WindowSize = def.History.WindowSize
	}
	if c.Scoring.Scorer == "" {
		c.Scoring.Scorer = def.Scoring.Scorer
	}
	if c.Scoring.Threshold <= 0 {
		c.Scoring.Threshold = def.Scoring.Threshold
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = def.HTTP.Port
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = def.WebSocket.Port
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = def.WebSocket.Path
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = def.Metrics.Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.NATS.MaxPerSensor <= 0 {
		c.NATS.MaxPerSensor = def.NATS.MaxPerSensor
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Scoring.Scorer == ScorerHTTP && c.Scoring.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"scoring.url is required when scoring.scorer is \"http\"")
	}
	if c.Transport.Endpoint != "" {
		if strings.Contains(c.Transport.Endpoint, "://") &&
			!strings.HasPrefix(c.Transport.Endpoint, "tcp://") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("unsupported transport endpoint %q", c.Transport.Endpoint))
		}
	}
	return nil
}

// validateSchema runs the embedded JSON Schema over the raw document.
func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "schema validation")
	}
	if !result.Valid() {
		var sb strings.Builder
		sb.WriteString("configuration invalid:")
		for _, desc := range result.Errors() {
			fmt.Fprintf(&sb, " %s: %s;", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateSchema",
			strings.TrimSuffix(sb.String(), ";"))
	}
	return nil
}

// safeReadFile reads a config file after checking it is a regular file
// of reasonable size.
func safeReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}
	return os.ReadFile(path)
}
