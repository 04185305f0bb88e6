package classifier

import (
	"context"
	"math"

	"github.com/c360/sensorstream/errors"
)

// DefaultThreshold is the absolute z-score at which a value is flagged.
const DefaultThreshold = 3.0

// ZScoreScorer scores a value by its standardized deviation from the
// baseline mean, using sample variance.
type ZScoreScorer struct {
	// Threshold is the absolute z-score boundary; values at or beyond it
	// are labelled anomalous. Zero means DefaultThreshold.
	Threshold float64
}

// Score implements Scorer.
//
// Fewer than two usable baseline samples is a scoring failure the caller
// fails open on; a flat baseline with zero spread yields Normal with no
// score since no meaningful deviation can be computed.
func (z *ZScoreScorer) Score(_ context.Context, baseline []float64, value float64) (ScoreResult, error) {
	threshold := z.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	hist := make([]float64, 0, len(baseline))
	for _, v := range baseline {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		hist = append(hist, v)
	}

	if len(hist) < 2 {
		return ScoreResult{}, errors.WrapInvalid(
			errors.ErrEmptyBaseline, "ZScoreScorer", "Score", "fewer than two usable baseline values")
	}

	var sum float64
	for _, v := range hist {
		sum += v
	}
	mean := sum / float64(len(hist))

	var sqDiff float64
	for _, v := range hist {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(hist)-1)
	std := math.Sqrt(variance)

	if std == 0 || math.IsNaN(std) {
		return ScoreResult{Status: "Normal"}, nil
	}

	score := (value - mean) / std
	status := "Normal"
	if math.Abs(score) >= threshold {
		status = "Anomaly"
	}

	return ScoreResult{Status: status, Score: &score}, nil
}
