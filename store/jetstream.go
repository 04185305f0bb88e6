package store

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/natsclient"
	"github.com/c360/sensorstream/reading"
)

const (
	// StreamName is the JetStream stream holding all readings.
	StreamName = "READINGS"

	// subjectWildcard matches every per-sensor subject in the stream.
	subjectWildcard = "readings.>"

	fetchBatchSize = 500
)

// JetStream persists readings in a NATS JetStream stream, one subject per
// sensor, with per-subject retention bounding how much history each sensor
// keeps.
type JetStream struct {
	client *natsclient.Client
	js     jetstream.JetStream
}

// NewJetStream creates the readings stream if needed and returns the store.
// maxPerSensor bounds retained readings per sensor; zero keeps the broker
// default (unlimited).
func NewJetStream(ctx context.Context, client *natsclient.Client, maxPerSensor int) (*JetStream, error) {
	if client == nil {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "JetStream", "NewJetStream", "nats client is required")
	}

	js, err := client.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "NewJetStream", "get JetStream context")
	}

	cfg := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Classified sensor readings, one subject per sensor",
		Subjects:    []string{subjectWildcard},
		Storage:     jetstream.FileStorage,
	}
	if maxPerSensor > 0 {
		cfg.MaxMsgsPerSubject = int64(maxPerSensor)
	}

	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "NewJetStream", "create stream")
	}

	return &JetStream{client: client, js: js}, nil
}

// Save implements Store.
func (s *JetStream) Save(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	if err := r.Validate(); err != nil {
		return reading.Reading{}, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return reading.Reading{}, errors.WrapFatal(err, "JetStream", "Save", "marshal reading")
	}

	if _, err := s.js.Publish(ctx, r.Subject(), data); err != nil {
		return reading.Reading{}, errors.WrapTransient(
			errors.ErrSaveFailed, "JetStream", "Save", err.Error())
	}

	return r, nil
}

// FindRecent implements Store.
func (s *JetStream) FindRecent(ctx context.Context, sensorID int64, limit int) ([]reading.Reading, error) {
	return s.gather(ctx, reading.SubjectFor(sensorID), limit)
}

// FindLatest implements Store.
func (s *JetStream) FindLatest(ctx context.Context, limit int) ([]reading.Reading, error) {
	return s.gather(ctx, subjectWildcard, limit)
}

// gather replays the filtered subject through an ephemeral ordered
// consumer and returns the readings newest first.
func (s *JetStream) gather(ctx context.Context, subject string, limit int) ([]reading.Reading, error) {
	cons, err := s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "JetStream", "gather", err.Error())
	}

	var out []reading.Reading
	for {
		batch, err := cons.FetchNoWait(fetchBatchSize)
		if err != nil {
			return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "JetStream", "gather", err.Error())
		}

		count := 0
		for msg := range batch.Messages() {
			count++
			var r reading.Reading
			if err := json.Unmarshal(msg.Data(), &r); err != nil {
				// Corrupt stored entries are skipped, not fatal
				continue
			}
			out = append(out, r)
		}
		if err := batch.Error(); err != nil {
			return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "JetStream", "gather", err.Error())
		}
		if count < fetchBatchSize {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
