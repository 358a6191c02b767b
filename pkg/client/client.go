// Package client reads the status API served by a running bringup.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/urbanclear/bringup/internal/lifecycle"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
)

// ErrNotFound is returned when the server has nothing to report yet.
var ErrNotFound = errors.New("not found")

// Client talks to the status server of a running orchestrator.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8090",
		Timeout: 5 * time.Second,
	}
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if !strings.Contains(config.BaseURL, "://") {
		config.BaseURL = "http://" + config.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the status server answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("status server unreachable", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (c *Client) Status(ctx context.Context) (lifecycle.Status, error) {
	var st lifecycle.Status
	err := c.getJSON(ctx, "/status", &st)
	return st, err
}

// Summary returns the last ready summary, or ErrNotFound before the run is ready.
func (c *Client) Summary(ctx context.Context) (report.Summary, error) {
	var s report.Summary
	err := c.getJSON(ctx, "/summary", &s)
	return s, err
}

// Stats returns live resource usage of the child, or ErrNotFound without one.
func (c *Client) Stats(ctx context.Context) (process.Stats, error) {
	var s process.Stats
	err := c.getJSON(ctx, "/stats", &s)
	return s, err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func handleErrorResponse(resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	if resp.StatusCode == http.StatusNotFound {
		if er.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, er.Error)
		}
		return ErrNotFound
	}
	if er.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}
