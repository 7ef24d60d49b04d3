// Package transport submits metric batches to the remote ingestion API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/runship/internal/metric"
	"github.com/roach88/runship/internal/shipper"
)

// seriesPath is the ingestion endpoint, relative to the configured base URL.
const seriesPath = "/api/v1/series"

// defaultTimeout bounds one submission round trip.
const defaultTimeout = 30 * time.Second

// APIError is a failure the remote API reported: the request reached the
// service and was rejected. Network-level failures are returned as plain
// wrapped errors instead.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metrics api: status %d: %s", e.StatusCode, e.Message)
}

// TransportError marks APIError as a recognized remote failure.
func (e *APIError) TransportError() {}

var _ shipper.TransportError = (*APIError)(nil)

// Client posts gauge series to the metrics API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the given API base URL. The key is sent
// on every request; the caller loads it (from the environment) and passes
// it explicitly - the client reads no ambient state.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type seriesPayload struct {
	Series []series `json:"series"`
}

type series struct {
	Metric string       `json:"metric"`
	Type   string       `json:"type"`
	Unit   string       `json:"unit,omitempty"`
	Points [][2]float64 `json:"points"`
	Tags   []string     `json:"tags,omitempty"`
}

type apiErrorBody struct {
	Errors []string `json:"errors"`
}

// SubmitBatch posts the points as one series payload, preserving input
// order. A non-2xx response is returned as *APIError; anything that kept
// the request from completing is returned wrapped.
func (c *Client) SubmitBatch(ctx context.Context, points []metric.Point) error {
	payload := seriesPayload{Series: make([]series, len(points))}
	for i, p := range points {
		payload.Series[i] = series{
			Metric: p.Name,
			Type:   p.Type(),
			Unit:   p.Unit,
			Points: [][2]float64{{float64(p.Timestamp.Unix()), p.Value}},
			Tags:   p.Tags,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode series payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+seriesPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post series: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
}

// errorMessage extracts the API's error text from a rejection response,
// falling back to the HTTP status text when the body is not the expected
// shape.
func errorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var body apiErrorBody
		if jsonErr := json.Unmarshal(raw, &body); jsonErr == nil && len(body.Errors) > 0 {
			return body.Errors[0]
		}
	}
	return http.StatusText(resp.StatusCode)
}
