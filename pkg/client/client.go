package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running cardflow server over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// New creates a cardflow API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the server answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// CreateCard registers a new card journey.
func (c *Client) CreateCard(ctx context.Context, req CreateCardRequest) (*Card, error) {
	var out Card
	if err := c.do(ctx, http.MethodPost, "/cards", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus advances the journey to a new stage.
func (c *Client) UpdateStatus(ctx context.Context, id string, req StatusUpdateRequest) (*Card, error) {
	var out Card
	if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(id)+"/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCard fetches one journey.
func (c *Client) GetCard(ctx context.Context, id string) (*Card, error) {
	var out Card
	if err := c.do(ctx, http.MethodGet, "/cards/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchCards matches against card id, customer id and customer name.
func (c *Client) SearchCards(ctx context.Context, q string, limit int) ([]Card, error) {
	path := "/cards?q=" + url.QueryEscape(q)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var out []Card
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DelayedCards lists non-terminal journeys older than the server threshold,
// or older than the given threshold when non-zero.
func (c *Client) DelayedCards(ctx context.Context, threshold time.Duration) ([]Card, error) {
	path := "/cards/delayed"
	if threshold > 0 {
		path += "?threshold=" + url.QueryEscape(threshold.String())
	}
	var out []Card
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dashboard fetches the operational overview.
func (c *Client) Dashboard(ctx context.Context, timeRange time.Duration) (*Dashboard, error) {
	path := "/analytics/dashboard"
	if timeRange > 0 {
		path += "?range=" + url.QueryEscape(timeRange.String())
	}
	var out Dashboard
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bottlenecks lists the latest analysis summaries.
func (c *Client) Bottlenecks(ctx context.Context, limit int, severity string) ([]Bottleneck, error) {
	path := "/analytics/bottlenecks?limit=" + strconv.Itoa(limit)
	if severity != "" {
		path += "&severity=" + url.QueryEscape(severity)
	}
	var out []Bottleneck
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunAnalysis triggers an immediate bottleneck analysis pass.
func (c *Client) RunAnalysis(ctx context.Context) (*AnalysisResult, error) {
	var out AnalysisResult
	if err := c.do(ctx, http.MethodPost, "/analytics/run", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Insights fetches the current insight list.
func (c *Client) Insights(ctx context.Context) ([]Insight, error) {
	var out []Insight
	if err := c.do(ctx, http.MethodGet, "/insights", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr != nil || apiErr.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
