// Package sessionapi starts voice sessions over the coaching backend's
// REST surface. The returned session id is informational; the websocket
// handshake remains the authoritative session start.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// StartedSession is the backend's response to a session start request.
type StartedSession struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type startRequest struct {
	BusinessID int `json:"business_id"`
	UserID     int `json:"user_id"`
}

// Client calls the voice session REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The otelhttp
// transport is not reapplied; the caller owns instrumentation then.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	client := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Start requests a new voice session for the given caller.
func (c *Client) Start(ctx context.Context, businessID, userID int) (*StartedSession, error) {
	body, err := json.Marshal(startRequest{BusinessID: businessID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/voice/start", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to start voice session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to start voice session: unexpected status %d", resp.StatusCode)
	}

	var started StartedSession
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}

	logger.Info("voice session started", "session_id", started.SessionID, "ttl_seconds", started.TTLSeconds)
	return &started, nil
}
