// Package transport reads raw reading lines from an unreliable byte
// stream and feeds them into the ingestion pipeline, reconnecting
// indefinitely with a fixed backoff.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/c360/sensorstream/errors"
)

// Dialer opens the byte stream the reader consumes lines from.
type Dialer interface {
	// Dial opens the stream. The returned closer unblocks any in-flight
	// read when closed.
	Dial(ctx context.Context) (io.ReadCloser, error)

	// Endpoint describes the target for logs and health reporting.
	Endpoint() string
}

// NewDialer builds a dialer from an endpoint string. "tcp://host:port"
// dials a TCP stream; anything else is treated as a device file path
// such as /dev/ttyUSB0. An empty endpoint returns nil: the transport is
// then inert.
func NewDialer(endpoint string) (Dialer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, nil
	}

	if after, ok := strings.CutPrefix(endpoint, "tcp://"); ok {
		if _, _, err := net.SplitHostPort(after); err != nil {
			return nil, errors.WrapInvalid(err, "transport", "NewDialer", "parse tcp endpoint")
		}
		return &tcpDialer{addr: after}, nil
	}

	if strings.Contains(endpoint, "://") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported scheme in %q", endpoint),
			"transport", "NewDialer", "parse endpoint")
	}

	return &fileDialer{path: endpoint}, nil
}

// tcpDialer connects to a TCP line source, typically a serial-over-TCP
// bridge in front of the physical device.
type tcpDialer struct {
	addr string
}

func (d *tcpDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	var nd net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := nd.DialContext(dialCtx, "tcp", d.addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Dial", "dial tcp")
	}
	return conn, nil
}

func (d *tcpDialer) Endpoint() string {
	return "tcp://" + d.addr
}

// fileDialer opens a device file such as a serial port node.
type fileDialer struct {
	path string
}

func (d *fileDialer) Dial(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Dial", "open device")
	}
	return f, nil
}

func (d *fileDialer) Endpoint() string {
	return d.path
}
