package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/broadcast"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/health"
	"github.com/c360/sensorstream/pipeline"
	"github.com/c360/sensorstream/store"
)

func newTestGateway(t *testing.T) (*Gateway, *store.Memory, *broadcast.Broadcaster) {
	t.Helper()

	mem := store.NewMemory(0)
	bc := broadcast.New(nil, nil)
	ingestor, err := pipeline.NewIngestor(pipeline.Deps{
		Store:       mem,
		Broadcaster: bc,
	})
	require.NoError(t, err)

	g := NewGateway(GatewayDeps{
		Ingestor:    ingestor,
		Store:       mem,
		Broadcaster: bc,
		Health:      health.NewMonitor(),
	})
	require.NoError(t, g.Initialize())
	return g, mem, bc
}

func postReading(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/readings", "application/json",
		bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func TestGatewayIngest(t *testing.T) {
	g, mem, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postReading(t, srv, `{"sensorId": 1, "value": 25.4, "time": "2025-10-12T14:10:00Z", "location": "Factory A"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Success bool `json:"success"`
		Reading struct {
			SensorID int64          `json:"sensorId"`
			Value    float64        `json:"value"`
			Status   string         `json:"status"`
			Location string         `json:"location"`
			Raw      map[string]any `json:"raw"`
		} `json:"reading"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.Reading.SensorID)
	assert.InDelta(t, 25.4, result.Reading.Value, 1e-9)
	assert.Equal(t, "Normal", result.Reading.Status)
	assert.Equal(t, "Factory A", result.Reading.Location)
	assert.Equal(t, "Factory A", result.Reading.Raw["location"])
	assert.Equal(t, 1, mem.Count())
}

func TestGatewayIngestSynonymKeys(t *testing.T) {
	g, mem, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postReading(t, srv, `{"sensor id": 7, "val": 12.5, "location of sensor": "Roof"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, mem.Count())
}

func TestGatewayIngestRejections(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"missing sensor id", `{"value": 10}`, pipeline.ReasonMissingSensorID},
		{"non-numeric sensor id", `{"sensorId": "abc", "value": 10}`, pipeline.ReasonMissingSensorID},
		{"missing value", `{"sensorId": 1}`, pipeline.ReasonInvalidValue},
		{"not an object", `[1, 2, 3]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postReading(t, srv, tt.body)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			if tt.reason != "" {
				var body struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.reason, body.Error)
			}
		})
	}
}

func TestGatewayIngestStoreFailure(t *testing.T) {
	g, mem, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	mem.FailNext(errors.ErrSaveFailed)

	resp := postReading(t, srv, `{"sensorId": 1, "value": 25.4}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, mem.Count())
}

func TestGatewayLatest(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	for i := 0; i < 30; i++ {
		resp := postReading(t, srv,
			fmt.Sprintf(`{"sensorId": %d, "value": %d.5}`, i%3+1, i))
		resp.Body.Close()
	}

	t.Run("default limit", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/readings/latest")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Count    int               `json:"count"`
			Readings []json.RawMessage `json:"readings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, defaultLatestLimit, body.Count)
		assert.Len(t, body.Readings, defaultLatestLimit)
	})

	t.Run("explicit limit", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/readings/latest?limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 5, body.Count)
	})

	t.Run("sensor filter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/readings/latest?sensorId=1&limit=100")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Count    int `json:"count"`
			Readings []struct {
				SensorID int64 `json:"sensorId"`
			} `json:"readings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 10, body.Count)
		for _, r := range body.Readings {
			assert.Equal(t, int64(1), r.SensorID)
		}
	})

	t.Run("non-integer sensor filter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/readings/latest?sensorId=abc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGatewayHistory(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp := postReading(t, srv, fmt.Sprintf(`{"sensorId": 11, "value": %d}`, i))
		resp.Body.Close()
	}
	resp := postReading(t, srv, `{"sensorId": 12, "value": 99}`)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/readings/history/11")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Count    int `json:"count"`
		Readings []struct {
			SensorID int64   `json:"sensorId"`
			Value    float64 `json:"value"`
		} `json:"readings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 5, body.Count)
	// Newest first
	assert.InDelta(t, 4.0, body.Readings[0].Value, 1e-9)
}

func TestGatewayHistoryUnknownSensor(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/readings/history/404")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count    int               `json:"count"`
		Readings []json.RawMessage `json:"readings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Readings)
}

func TestGatewayHistoryNonIntegerSensor(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/readings/history/pump-a")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayEventStream(t *testing.T) {
	g, _, bc := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// Connection comment arrives before any event
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected", strings.TrimRight(line, "\n"))

	// Wait for the subscription before publishing
	require.Eventually(t, func() bool { return bc.Count() == 1 },
		time.Second, 10*time.Millisecond)

	resp2 := postReading(t, srv, `{"sensorId": 1, "value": 25.4}`)
	resp2.Body.Close()

	var data string
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimRight(line, "\n"), "data: ")
			break
		}
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			SensorID int64   `json:"sensorId"`
			Value    float64 `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "reading", event.Event)
	assert.Equal(t, int64(1), event.Data.SensorID)
	assert.InDelta(t, 25.4, event.Data.Value, 1e-9)
}

func TestGatewayHealthz(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	g.monitor.UpdateHealthy("store", "connected")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	g.monitor.UpdateUnhealthy("store", "connection lost")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGatewayMethodNotAllowed(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/readings")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 20, parseLimit("", 20, 1000))
	assert.Equal(t, 50, parseLimit("50", 20, 1000))
	assert.Equal(t, 1000, parseLimit("9999", 20, 1000))
	assert.Equal(t, 20, parseLimit("-3", 20, 1000))
	assert.Equal(t, 20, parseLimit("abc", 20, 1000))
}

func TestGatewayInitializeValidation(t *testing.T) {
	g := NewGateway(GatewayDeps{})
	err := g.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
