package testutil

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/classifier"
)

// StubScorer returns a scripted result, optionally after a delay.
type StubScorer struct {
	mu     sync.Mutex
	Result classifier.ScoreResult
	Err    error
	Delay  time.Duration
	calls  int
}

// Score implements classifier.Scorer.
func (s *StubScorer) Score(ctx context.Context, _ []float64, _ float64) (classifier.ScoreResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return classifier.ScoreResult{}, ctx.Err()
		}
	}
	return s.Result, s.Err
}

// Calls reports how many times Score was invoked.
func (s *StubScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CollectSink records every broadcast payload it receives.
type CollectSink struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	FailWith error
}

// Send implements broadcast.Sink.
func (c *CollectSink) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		return c.FailWith
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.payloads = append(c.payloads, buf)
	return nil
}

// Close implements broadcast.Sink.
func (c *CollectSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether the broadcaster released the sink.
func (c *CollectSink) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Payloads returns a copy of every payload received so far.
func (c *CollectSink) Payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// Events decodes the collected payloads as broadcast envelopes.
func (c *CollectSink) Events() []broadcast.Event {
	payloads := c.Payloads()
	events := make([]broadcast.Event, 0, len(payloads))
	for _, p := range payloads {
		var e broadcast.Event
		if err := json.Unmarshal(p, &e); err == nil {
			events = append(events, e)
		}
	}
	return events
}

// LineDialer serves a fixed set of lines as one transport connection,
// then returns EOF. Subsequent dials block until ctx is done so a test
// sees exactly one pass over the script.
type LineDialer struct {
	Lines []string

	mu    sync.Mutex
	dials int
}

// Dial implements transport.Dialer.
func (d *LineDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	first := d.dials == 0
	d.dials++
	d.mu.Unlock()

	if !first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return io.NopCloser(strings.NewReader(strings.Join(d.Lines, "\n") + "\n")), nil
}

// Endpoint implements transport.Dialer.
func (d *LineDialer) Endpoint() string {
	return "test://lines"
}

// Dials reports how many times the transport dialed.
func (d *LineDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
