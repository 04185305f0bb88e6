// Package classifier labels readings against their rolling baseline.
//
// Scoring is delegated to a Scorer collaborator and bounded by a timeout.
// The policy is fail-open: a missing baseline, a scorer error, a timeout,
// or malformed scorer output all degrade to Normal with no score. A missed
// anomaly is preferred over a stalled pipeline.
package classifier

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/c360/sensorstream/reading"
)

// DefaultTimeout bounds a single scoring call.
const DefaultTimeout = 5 * time.Second

// ScoreResult is what a scorer hands back. Status is a free-form label;
// the classifier maps it onto the reading status vocabulary.
type ScoreResult struct {
	Status string   `json:"status"`
	Score  *float64 `json:"zscore"`
}

// Scorer computes an anomaly score for a value against its baseline.
type Scorer interface {
	Score(ctx context.Context, baseline []float64, value float64) (ScoreResult, error)
}

// Classifier classifies readings using a Scorer.
type Classifier struct {
	scorer  Scorer
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout overrides the scoring timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the classifier logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Classifier around the given scorer. A nil scorer is
// allowed; every classification then falls open to Normal.
func New(scorer Scorer, opts ...Option) *Classifier {
	c := &Classifier{
		scorer:  scorer,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scores value against baseline and returns the status label plus
// the score, nil when scoring was unavailable. It never returns an error.
func (c *Classifier) Classify(ctx context.Context, baseline []float64, value float64) (reading.Status, *float64) {
	if c.scorer == nil || len(baseline) == 0 {
		return reading.StatusNormal, nil
	}

	scoreCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		result ScoreResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.scorer.Score(scoreCtx, baseline, value)
		done <- outcome{result, err}
	}()

	var result ScoreResult
	select {
	case o := <-done:
		if o.err != nil {
			c.logger.Warn("scoring failed, assuming normal", "error", o.err)
			return reading.StatusNormal, nil
		}
		result = o.result
	case <-scoreCtx.Done():
		c.logger.Warn("scoring timed out, assuming normal", "timeout", c.timeout)
		return reading.StatusNormal, nil
	}

	if result.Score != nil && (math.IsNaN(*result.Score) || math.IsInf(*result.Score, 0)) {
		c.logger.Warn("scorer returned non-finite score, assuming normal")
		return reading.StatusNormal, nil
	}

	// A response without any status label counts as malformed output
	if strings.TrimSpace(result.Status) == "" {
		return reading.StatusNormal, nil
	}

	return mapStatus(result.Status), result.Score
}

// mapStatus folds scorer labels onto the reading status vocabulary.
// Unrecognized or missing labels substitute Normal.
func mapStatus(label string) reading.Status {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "anomaly", "outlier":
		return reading.StatusAnomaly
	case "normal":
		return reading.StatusNormal
	default:
		return reading.StatusNormal
	}
}
