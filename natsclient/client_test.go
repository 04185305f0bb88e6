package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(5),
		WithReconnectWait(time.Second),
		WithTimeout(3*time.Second),
		WithName("sensorstream"),
		WithCredentials("user", "pass"),
	)
	require.NoError(t, err)

	assert.Equal(t, 5, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, 3*time.Second, c.timeout)
	assert.Equal(t, "sensorstream", c.clientName)
	assert.Equal(t, "user", c.username)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestClient_ConnectCancelledContext(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_JetStreamNotInitialized(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.Error(t, err)
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_WaitForConnectionTimeout(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.WaitForConnection(ctx)
	assert.Error(t, err)
}

func TestClient_HandlersTrackFailuresAndReconnects(t *testing.T) {
	disconnects := make(chan error, 1)
	reconnects := make(chan struct{}, 1)

	c, err := NewClient("nats://localhost:4222",
		WithDisconnectCallback(func(err error) { disconnects <- err }),
		WithReconnectCallback(func() { reconnects <- struct{}{} }),
	)
	require.NoError(t, err)

	c.handleDisconnect(nil, assert.AnError)
	assert.Equal(t, StatusReconnecting, c.Status())
	assert.Equal(t, int32(1), c.Failures())
	select {
	case <-disconnects:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	c.handleReconnect(nil)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, int32(1), c.Reconnects())
	select {
	case <-reconnects:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not invoked")
	}

	c.handleClosed(nil)
	assert.Equal(t, StatusDisconnected, c.Status())
}
