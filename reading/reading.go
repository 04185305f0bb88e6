// Package reading defines the canonical sensor reading record shared by the
// decoder, pipeline, store, and broadcast layers.
package reading

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/sensorstream/errors"
)

// Status is the classification label attached to a reading.
type Status string

// Known statuses. Readings default to Normal; the classifier upgrades a
// reading to Anomaly when its score clears the configured threshold.
const (
	StatusNormal  Status = "Normal"
	StatusAnomaly Status = "Anomaly"
)

// Valid reports whether s is a recognized status label.
func (s Status) Valid() bool {
	return s == StatusNormal || s == StatusAnomaly
}

// Reading is one classified sensor observation.
//
// A Reading is never persisted or broadcast without a finite numeric value;
// Validate enforces that before the store sees it. The sensor identifier is
// numeric; inputs whose identifier does not coerce to an integer are
// rejected by the decoder before a Reading exists.
type Reading struct {
	// SensorID identifies the originating sensor
	SensorID int64 `json:"sensorId"`

	// Value is the measured numeric value
	Value float64 `json:"value"`

	// Location is a free-form human-supplied position label
	Location string `json:"location,omitempty"`

	// Timestamp is when the reading was taken, or ingestion time when the
	// source did not supply a usable time
	Timestamp time.Time `json:"time"`

	// Status is the classification label, Normal unless scoring said otherwise
	Status Status `json:"status"`

	// Score is the anomaly score; nil when scoring was unavailable
	Score *float64 `json:"zscore,omitempty"`

	// Raw preserves the decoded input fields for audit and debugging
	Raw map[string]any `json:"raw,omitempty"`
}

// New constructs a Reading with the default Normal status.
func New(sensorID int64, value float64, location string, ts time.Time) Reading {
	return Reading{
		SensorID:  sensorID,
		Value:     value,
		Location:  location,
		Timestamp: ts,
		Status:    StatusNormal,
	}
}

// Validate checks the persistence invariants.
func (r Reading) Validate() error {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.ErrInvalidValue
	}
	return nil
}

// WithScore returns a copy of the reading carrying the given status and score.
func (r Reading) WithScore(status Status, score *float64) Reading {
	if !status.Valid() {
		status = StatusNormal
	}
	r.Status = status
	r.Score = score
	return r
}

// Subject returns the NATS subject this reading is stored under.
func (r Reading) Subject() string {
	return SubjectFor(r.SensorID)
}

// SubjectFor returns the per-sensor NATS subject for a sensor identifier.
func SubjectFor(sensorID int64) string {
	return "readings." + SanitizeToken(strconv.FormatInt(sensorID, 10))
}

// SanitizeToken rewrites a free-form identifier into a safe NATS subject
// token. Dots, spaces, wildcards, and the null token separator all collapse
// to underscores.
func SanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
