// Package footballdata is a client for the football-data.org fixture API.
package footballdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// rateKey is the limiter bucket shared by every instance using the same key.
const rateKey = "feed:footballdata"

// Client fetches fixtures. All requests pass through the distributed rate
// limiter when one is configured.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
	limit      int
	window     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit throttles requests to limit per window through l.
func WithRateLimit(l domain.RateLimiter, limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limiter = l
		c.limit = limit
		c.window = window
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for baseURL, e.g. "https://api.football-data.org/v4".
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type fixtureResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Score  struct {
		FullTime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fullTime"`
	} `json:"score"`
	// Error responses carry a message and sometimes a legacy "error" field.
	Message   string `json:"message"`
	Error     any    `json:"error"`
	ErrorCode int    `json:"errorCode"`
}

// Fixture returns the status and full-time score of fixture id. Unknown ids
// return domain.ErrNotFound; any other failure wraps domain.ErrFeedUnavailable.
func (c *Client) Fixture(ctx context.Context, id int64) (domain.Fixture, error) {
	if id <= 0 {
		return domain.Fixture{}, fmt.Errorf("footballdata: fixture %d: %w", id, domain.ErrNotFound)
	}
	if c.limiter != nil && c.limit > 0 {
		if err := c.limiter.Wait(ctx, rateKey, c.limit, c.window); err != nil {
			return domain.Fixture{}, fmt.Errorf("footballdata: rate limit: %w", err)
		}
	}

	body, status, err := c.get(ctx, fmt.Sprintf("/matches/%d", id))
	if err != nil {
		return domain.Fixture{}, fmt.Errorf("footballdata: get fixture %d: %w: %v", id, domain.ErrFeedUnavailable, err)
	}

	var resp fixtureResponse
	decodeErr := json.Unmarshal(body, &resp)

	switch {
	case status == http.StatusNotFound:
		return domain.Fixture{}, fmt.Errorf("footballdata: fixture %d: %w", id, domain.ErrNotFound)
	case status == http.StatusTooManyRequests:
		return domain.Fixture{}, fmt.Errorf("footballdata: fixture %d: %w", id, domain.ErrRateLimited)
	case status < 200 || status >= 300:
		return domain.Fixture{}, fmt.Errorf("footballdata: fixture %d: %w: HTTP %d: %s", id, domain.ErrFeedUnavailable, status, resp.Message)
	case decodeErr != nil:
		return domain.Fixture{}, fmt.Errorf("footballdata: decode fixture %d: %w: %v", id, domain.ErrFeedUnavailable, decodeErr)
	case resp.Error != nil || resp.ErrorCode != 0:
		return domain.Fixture{}, fmt.Errorf("footballdata: fixture %d: %w: %v %s", id, domain.ErrFeedUnavailable, resp.Error, resp.Message)
	}

	return domain.Fixture{
		ID:        id,
		Status:    domain.FixtureStatus(resp.Status),
		HomeGoals: resp.Score.FullTime.Home,
		AwayGoals: resp.Score.FullTime.Away,
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Auth-Token", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Compile-time interface check.
var _ domain.FixtureFeed = (*Client)(nil)
