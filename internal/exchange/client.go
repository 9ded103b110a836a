package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig holds the outbound HTTP settings shared by adapters.
type ClientConfig struct {
	BaseURL        string
	RateLimiter    *rate.Limiter
	RequestTimeout time.Duration
}

// DefaultClientConfig returns a config with the standard request
// timeout and a rate limiter sized for requestsPerSecond with a small
// burst allowance.
func DefaultClientConfig(baseURL string, requestsPerSecond float64) *ClientConfig {
	return &ClientConfig{
		BaseURL:        baseURL,
		RateLimiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 10),
		RequestTimeout: 15 * time.Second,
	}
}

// Client issues rate-limited JSON GET requests against one exchange
// and maps transport failures onto the adapter error taxonomy.
type Client struct {
	name   string
	config *ClientConfig
	http   *http.Client
}

// NewClient builds a Client for the named exchange.
func NewClient(name string, config *ClientConfig) *Client {
	return &Client{
		name:   name,
		config: config,
		http:   &http.Client{},
	}
}

// GetJSON fetches BaseURL+path with the query string, honoring the
// rate limiter and per-request timeout, and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.config.RateLimiter.Wait(ctx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	reqURL := c.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", c.name, ErrUpstreamTimeout)
		}
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Exchange: c.name, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", c.name, ErrUpstreamProtocol, err)
	}
	return nil
}
