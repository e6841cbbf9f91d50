// Package utsid is the client SDK for the auth service and for backends
// sitting behind the gateway.
package utsid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponse caps how much of a response body the client reads.
const maxResponse = 1 << 20

// Config holds the configuration for the client.
type Config struct {
	// BaseURL is the root URL of the auth service, or of the gateway when
	// the auth service is routed through it.
	BaseURL string

	// HTTPClient is optional. Default: 10s timeout.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client calls the auth service API.
type Client struct {
	cfg Config
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Login exchanges email and password for an access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/auth/login", req)
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("utsid: failed to parse login response: %w", err)
	}
	return &resp, nil
}

// PublicKey returns the PEM encoded token verification key.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/public-key", nil)
	if err != nil {
		return "", err
	}

	var resp publicKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("utsid: failed to parse public key response: %w", err)
	}
	return resp.PublicKey, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("utsid: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("utsid: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("utsid: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("utsid: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}
