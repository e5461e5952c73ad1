// Package response provides the client side of the automated-response
// contract. Remediation mechanics (firewall pushes, IP blocks, tickets) live
// in an external engine; this package only dispatches threats to it.
package response

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

// ClientConfig holds configuration for the response client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultClientConfig returns the default response client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://localhost:9200",
		Timeout: 30 * time.Second,
	}
}

// Client dispatches confirmed threats to the response engine. It implements
// processor.Responder. The engine keys actions on the threat id, so retried
// submissions of the same threat are safe.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new response client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// HandleThreat submits the threat for automated remediation.
func (c *Client) HandleThreat(ctx context.Context, threat *schema.Threat) (*processor.ResponseResult, error) {
	payload, err := json.Marshal(threat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode threat: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/threats", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result processor.ResponseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response result: %w", err)
	}

	return &result, nil
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
		return nil, fmt.Errorf("response API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}
