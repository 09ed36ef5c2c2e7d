// Package httpclient provides the retrying HTTP client shared by every
// outbound call path (tool servers, LLM providers, agent-to-agent).
//
// Retries cover transport errors, timeouts, and retryable status codes
// (408, 429, 5xx) with exponential backoff and jitter. Request bodies are
// replayed through req.GetBody; requests without GetBody are not retried
// after the body has been consumed.
package httpclient

import (
	"fmt"
	"net/http"
	"time"
)

type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type Client struct {
	client       *http.Client
	backoff      BackoffPolicy
	headerParser RateLimitHeaderParser
	retryStatus  func(int) bool
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithBackoff(policy BackoffPolicy) Option {
	return func(c *Client) {
		c.backoff = policy
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.backoff.MaxAttempts = n
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryableStatus(fn func(int) bool) Option {
	return func(c *Client) {
		c.retryStatus = fn
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:      &http.Client{Timeout: 60 * time.Second, Transport: PooledTransport()},
		backoff:     DefaultBackoff(),
		retryStatus: RetryableStatus,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// PooledTransport returns a transport with the shared pool bounds
// (100 idle connections, 20 per host).
func PooledTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
}

// RetryableStatus reports whether a response status justifies another
// attempt: request timeout, rate limiting, and server errors do.
func RetryableStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout:
		return true
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}

// Do issues the request, retrying within the attempt budget. On success the
// caller owns the response body. On failure the last response is returned
// with its body open (error payloads stay readable); it is nil for
// transport-level failures. Exhausting the budget yields a *RetryableError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, retryable, retryInfo, err := c.attempt(req)
		if err == nil {
			return resp, nil
		}
		lastResp, lastErr = resp, err

		if !retryable {
			return lastResp, lastErr
		}
		if attempt == c.backoff.MaxAttempts {
			break
		}
		if req.Body != nil && req.GetBody == nil {
			// Consumed body cannot be replayed.
			break
		}
		if resp != nil {
			resp.Body.Close()
		}

		delay := c.backoff.Delay(attempt)
		if retryInfo.RetryAfter > 0 {
			delay = retryInfo.RetryAfter
		}

		select {
		case <-req.Context().Done():
			return lastResp, req.Context().Err()
		case <-time.After(delay):
		}
	}

	statusCode := 0
	if lastResp != nil {
		statusCode = lastResp.StatusCode
	}
	return lastResp, &RetryableError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("giving up after %d attempts", c.backoff.MaxAttempts),
		Err:        lastErr,
	}
}

// attempt performs one request. The second return value reports whether the
// failure may be retried.
func (c *Client) attempt(req *http.Request) (*http.Response, bool, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-level failures are retryable unless the context is done.
		if req.Context().Err() != nil {
			return nil, false, RateLimitInfo{}, err
		}
		return nil, true, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, false, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	return resp, c.retryStatus(resp.StatusCode), retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}
