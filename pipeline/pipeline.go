// Package pipeline orchestrates one reading's path through the system:
// decode, baseline lookup, classification, persistence, broadcast.
//
// Every producer shares this path. Transport lines come in through
// IngestLine; structured producers such as the HTTP gateway come in
// through IngestFields, which reuses the decoder's structured rule so
// normalization and classification are identical regardless of source.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/classifier"
	"github.com/c360/sensorstream/decoder"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/history"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/reading"
	"github.com/c360/sensorstream/store"
)

// Rejection reasons reported to callers.
const (
	ReasonMissingSensorID = "missing-sensor-id"
	ReasonInvalidValue    = "invalid-value"
	ReasonDecodeFailed    = "decode-failed"
	ReasonStoreFailed     = "persistence-failed"
)

// Rejection is a refused ingestion with a machine-readable reason.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return r.Reason + ": " + r.Err.Error()
	}
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Deps are the collaborators an Ingestor needs.
type Deps struct {
	Store       store.Store
	Window      *history.Window
	Classifier  *classifier.Classifier
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger
	Metrics     *metric.Metrics
}

// Ingestor is the single canonical ingestion path.
type Ingestor struct {
	store       store.Store
	window      *history.Window
	classifier  *classifier.Classifier
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// NewIngestor creates an Ingestor. Store is required; the other
// collaborators degrade gracefully when absent.
func NewIngestor(deps Deps) (*Ingestor, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "Ingestor", "NewIngestor", "store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Window == nil {
		deps.Window = history.NewWindow(history.DefaultSize, deps.Store)
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(nil)
	}
	return &Ingestor{
		store:       deps.Store,
		window:      deps.Window,
		classifier:  deps.Classifier,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}, nil
}

// IngestLine decodes one raw transport line and ingests it.
func (in *Ingestor) IngestLine(ctx context.Context, source, line string) (reading.Reading, error) {
	candidate, err := decoder.Decode(line)
	if err != nil {
		rej := in.reject(source, err)
		return reading.Reading{}, rej
	}
	return in.ingest(ctx, source, candidate)
}

// IngestFields ingests a structured input, resolving the same synonym
// keys as the decoder's structured rule.
func (in *Ingestor) IngestFields(ctx context.Context, source string, fields map[string]any) (reading.Reading, error) {
	candidate, err := decoder.Normalize(fields)
	if err != nil {
		rej := in.reject(source, err)
		return reading.Reading{}, rej
	}
	return in.ingest(ctx, source, candidate)
}

// ingest runs an already-normalized candidate through classification,
// persistence, and broadcast.
func (in *Ingestor) ingest(ctx context.Context, source string, candidate reading.Reading) (reading.Reading, error) {
	start := time.Now()

	// Baseline holds prior values only; the candidate is observed after
	// it has been persisted
	baseline := in.window.Baseline(ctx, candidate.SensorID)
	status, score := in.classifier.Classify(ctx, baseline, candidate.Value)
	classified := candidate.WithScore(status, score)

	saved, err := in.store.Save(ctx, classified)
	if err != nil {
		// The one failure mode that is surfaced: losing a write silently
		// would break durability expectations
		in.logger.Error("failed to persist reading",
			"sensor", classified.SensorID, "source", source, "error", err)
		if in.metrics != nil {
			in.metrics.RecordRejected(source, ReasonStoreFailed)
			in.metrics.RecordError("pipeline", "store")
		}
		return reading.Reading{}, &Rejection{Reason: ReasonStoreFailed, Err: err}
	}

	in.window.Observe(ctx, saved)

	if in.metrics != nil {
		in.metrics.RecordIngested(source, string(saved.Status))
		in.metrics.RecordIngestDuration(source, time.Since(start))
		if saved.Status == reading.StatusAnomaly {
			in.metrics.AnomaliesDetected.WithLabelValues(strconv.FormatInt(saved.SensorID, 10)).Inc()
		}
	}

	if saved.Status == reading.StatusAnomaly {
		in.logger.Info("anomalous reading detected",
			"sensor", saved.SensorID, "value", saved.Value, "score", score)
	}

	if in.broadcaster != nil {
		// Broadcast failures remove the failed sink and are never
		// surfaced; the reading is already persisted
		in.broadcaster.Publish("reading", saved)
	}

	return saved, nil
}

// reject classifies a decode/normalize error into a Rejection and records it.
func (in *Ingestor) reject(source string, err error) *Rejection {
	reason := ReasonDecodeFailed
	switch {
	case errors.Is(err, errors.ErrMissingSensorID):
		reason = ReasonMissingSensorID
	case errors.Is(err, errors.ErrInvalidValue):
		reason = ReasonInvalidValue
	}

	if in.metrics != nil {
		in.metrics.RecordRejected(source, reason)
	}
	return &Rejection{Reason: reason, Err: err}
}
