// Package gateway provides the shared HTTP plumbing for the venue gateway
// clients: HMAC-authenticated requests, per-gateway rate limiting, and
// error normalization.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/domain"
)

// Config holds the parameters shared by every gateway client.
type Config struct {
	BaseURL       string
	Auth          *crypto.GatewayAuth
	Timeout       time.Duration
	RateLimiter   domain.RateLimiter
	RateLimitKey  string
	RateLimitPerS int
}

// Client is the base HTTP client embedded by the venue adapters.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	auth          *crypto.GatewayAuth
	limiter       domain.RateLimiter
	rateLimitKey  string
	rateLimitPerS int
}

// New creates a gateway Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	perS := cfg.RateLimitPerS
	if perS <= 0 {
		perS = 20
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		auth:          cfg.Auth,
		limiter:       cfg.RateLimiter,
		rateLimitKey:  cfg.RateLimitKey,
		rateLimitPerS: perS,
	}
}

// apiError is the error envelope every gateway returns on non-2xx status.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Do performs an authenticated JSON request against the gateway and returns
// the raw response body. Non-2xx responses are normalized to ErrVenueCall
// with the gateway's error message attached.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, c.rateLimitKey, c.rateLimitPerS, time.Second)
		if err != nil {
			return nil, fmt.Errorf("gateway: rate limit check: %w", err)
		}
		if !allowed {
			if err := c.limiter.Wait(ctx, c.rateLimitKey); err != nil {
				return nil, fmt.Errorf("gateway: rate limit wait: %w", err)
			}
		}
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(bodyBytes)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read response %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("gateway: %s %s: status %d: %s: %w",
				method, path, resp.StatusCode, apiErr.Error, domain.ErrVenueCall)
		}
		return nil, fmt.Errorf("gateway: %s %s: status %d: %w",
			method, path, resp.StatusCode, domain.ErrVenueCall)
	}

	return respBody, nil
}
