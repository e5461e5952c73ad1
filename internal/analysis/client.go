// Package analysis provides the client side of the threat-analysis contract.
// The scoring model itself is an external service; this package only speaks
// its API.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"netsentry/internal/processor"
	"netsentry/internal/schema"
)

// ClientConfig holds configuration for the analysis client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// ConfidenceThreshold is forwarded to the model service; verdicts below
	// it come back benign.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// DefaultClientConfig returns the default analysis client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:             "http://localhost:9100",
		Timeout:             10 * time.Second,
		ConfidenceThreshold: 0.7,
	}
}

// Client calls the model-serving endpoint to obtain a verdict for an event.
// It implements processor.Analyzer.
type Client struct {
	baseURL    string
	apiKey     string
	threshold  float64
	httpClient *http.Client
}

// NewClient creates a new analysis client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		threshold: cfg.ConfidenceThreshold,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// analyzeRequest is the wire shape sent to the model service.
type analyzeRequest struct {
	Event               *schema.NetworkEvent `json:"event"`
	ConfidenceThreshold float64              `json:"confidence_threshold"`
}

// Analyze submits the event for scoring and returns the verdict.
// The caller bounds the call through ctx; errors and timeouts mean
// "no verdict", never "benign".
func (c *Client) Analyze(ctx context.Context, event *schema.NetworkEvent) (*processor.Verdict, error) {
	payload, err := json.Marshal(analyzeRequest{
		Event:               event,
		ConfidenceThreshold: c.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var verdict processor.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("verdict confidence out of range: %f", verdict.Confidence)
	}

	return &verdict, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}
