package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// clientConfig holds settings shared by the HTTP backends.
type clientConfig struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	temperature *float64
	maxTokens   int
	maxRetries  int
}

// Option configures a backend client.
type Option func(*clientConfig)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		c.model = model
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *clientConfig) {
		c.temperature = &t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) {
		c.maxTokens = n
	}
}

// WithMaxRetries sets how many times a rate-limited or failed request is retried.
func WithMaxRetries(n int) Option {
	return func(c *clientConfig) {
		c.maxRetries = n
	}
}

const (
	DefaultTimeout    = 2 * time.Minute
	DefaultMaxRetries = 5
	DefaultMaxTokens  = 2048
)

func newClientConfig(apiKey, baseURL, model string, opts []Option) clientConfig {
	c := clientConfig{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxTokens:  DefaultMaxTokens,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// APIError is a non-2xx response from a model provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// send performs the request built by newReq, retrying 429 and 5xx responses.
// newReq is called once per attempt since request bodies are consumed.
func (c *clientConfig) send(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		httpReq, err := newReq()
		if err != nil {
			return nil, err
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}

		body, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if httpResp.StatusCode == http.StatusOK {
			return body, nil
		}

		apiErr := &APIError{StatusCode: httpResp.StatusCode, Body: string(body)}
		if !apiErr.Retryable() || attempt >= c.maxRetries {
			return nil, apiErr
		}

		wait := retryAfterDelay(httpResp, attempt)
		slog.Warn("llm API request failed, retrying", "status", httpResp.StatusCode, "attempt", attempt+1, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// retryAfterDelay returns how long to wait before retrying a rate-limited request.
// It respects the retry-after header if present, otherwise uses exponential backoff.
func retryAfterDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Exponential backoff: 1s, 2s, 4s, 8s, capped at 30s
	wait := time.Duration(1<<uint(attempt)) * time.Second
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	return wait
}
