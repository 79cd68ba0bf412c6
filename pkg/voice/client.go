// Package voice provides a client for the conversational voice agent platform API.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/clusterx/voicesync/internal/resilience"
)

// Client defines the voice platform operations used by the ingestion pipeline.
type Client interface {
	// ListAgents returns all agents configured on the account.
	ListAgents(ctx context.Context) ([]Agent, error)
	// ListExecutions returns one page of an agent's execution history.
	// Pages are 1-based.
	ListExecutions(ctx context.Context, agentID string, page, pageSize int) (*ExecutionsPage, error)
}

// Option configures the voice client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default 30s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit overrides the default request throttle (5 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ Client = (*httpClient)(nil)

// NewClient creates a new voice platform client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.bolna.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (408, 429, 5xx). Returns the response body and status
// code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Clone request for retry (body is nil for GET requests).
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				if serr := resilience.SleepContext(ctx, backoff); serr != nil {
					return nil, 0, serr
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "voice: read response body")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("voice: status %d: %s", resp.StatusCode, string(body))
			if serr := resilience.SleepContext(ctx, backoff); serr != nil {
				return nil, 0, serr
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "voice: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "voice: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return eris.Wrap(err, "voice: request failed")
	}

	if statusCode != http.StatusOK {
		err := eris.Errorf("voice: unexpected status %d: %s", statusCode, string(body))
		if resilience.IsTransientHTTPStatus(statusCode) {
			return resilience.NewTransientError(err, statusCode)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "voice: unmarshal response")
	}
	return nil
}

func (c *httpClient) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.get(ctx, "/v2/agent/all", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *httpClient) ListExecutions(ctx context.Context, agentID string, page, pageSize int) (*ExecutionsPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	path := fmt.Sprintf("/v2/agent/%s/executions?page_number=%d&page_size=%d", agentID, page, pageSize)
	var result ExecutionsPage
	if err := c.get(ctx, path, &result); err != nil {
		return nil, eris.Wrapf(err, "voice: list executions for agent %s", agentID)
	}
	if result.PageNumber == 0 {
		result.PageNumber = page
	}
	if result.PageSize == 0 {
		result.PageSize = pageSize
	}
	return &result, nil
}
