// Package store persists classified readings and serves recency queries.
package store

import (
	"context"

	"github.com/c360/sensorstream/reading"
)

// Store is the durable append-only log of readings. Queries return
// readings most recent first.
type Store interface {
	// Save persists a reading and returns the stored record.
	Save(ctx context.Context, r reading.Reading) (reading.Reading, error)

	// FindRecent returns up to limit readings for one sensor, newest first.
	FindRecent(ctx context.Context, sensorID int64, limit int) ([]reading.Reading, error)

	// FindLatest returns up to limit readings across all sensors, newest first.
	FindLatest(ctx context.Context, limit int) ([]reading.Reading, error)
}
