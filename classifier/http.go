package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/c360/sensorstream/errors"
)

// HTTPScorer delegates scoring to an external HTTP service. The service
// receives {"history": [...], "value": x} and answers with
// {"status": "...", "zscore": ...}; an empty or malformed response is a
// scoring failure, which the classifier fails open on.
type HTTPScorer struct {
	URL    string
	Client *http.Client
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		URL:    url,
		Client: &http.Client{},
	}
}

type scoreRequest struct {
	History []float64 `json:"history"`
	Value   float64   `json:"value"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, baseline []float64, value float64) (ScoreResult, error) {
	body, err := json.Marshal(scoreRequest{History: baseline, Value: value})
	if err != nil {
		return ScoreResult{}, errors.WrapInvalid(err, "HTTPScorer", "Score", "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return ScoreResult{}, errors.WrapInvalid(err, "HTTPScorer", "Score", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return ScoreResult{}, errors.WrapTransient(
			errors.ErrScoringFailed, "HTTPScorer", "Score", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ScoreResult{}, errors.WrapTransient(
			errors.ErrScoringFailed, "HTTPScorer", "Score",
			fmt.Sprintf("scoring service returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return ScoreResult{}, errors.WrapTransient(err, "HTTPScorer", "Score", "read response")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ScoreResult{}, errors.WrapInvalid(
			errors.ErrMalformedScore, "HTTPScorer", "Score", "empty response")
	}

	var result ScoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ScoreResult{}, errors.WrapInvalid(
			errors.ErrMalformedScore, "HTTPScorer", "Score", "parse response")
	}

	return result, nil
}
