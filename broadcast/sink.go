package broadcast

import (
	"sync"

	"github.com/c360/sensorstream/errors"
)

// ChanSink is a channel-backed sink for in-process subscribers such as the
// SSE handler. Send never blocks: when the buffer is full the event is
// dropped for this subscriber, which is within the at-most-once delivery
// tolerance. Send after Close reports the sink as dead.
type ChanSink struct {
	ch        chan []byte
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSink{ch: make(chan []byte, buffer)}
}

// C returns the receive side of the sink.
func (s *ChanSink) C() <-chan []byte {
	return s.ch
}

// Send implements Sink.
func (s *ChanSink) Send(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.ErrSinkClosed
	}

	select {
	case s.ch <- data:
	default:
		// Slow subscriber loses this event rather than stalling the fan-out
	}
	return nil
}

// Close implements Sink.
func (s *ChanSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
