package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// DefaultUserAgent is sent when a client does not configure its own.
const DefaultUserAgent = "Helixir-ResearchAggregation/1.0"

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source is the backend name used in logs and metric labels.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// Queue throttles every attempt, retries included. A nil queue sends
	// requests without throttling.
	Queue *RequestQueue

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string

	// Logger receives retry diagnostics.
	Logger *zerolog.Logger

	// Metrics records per-attempt request metrics when set.
	Metrics *observability.Metrics
}

// HTTPClient wraps http.Client with queue-based throttling and retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	queue   *RequestQueue
	config  HTTPClientConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewHTTPClient creates a new HTTP client bound to a backend's request queue.
// Every attempt waits for the queue before it is sent, and the client
// automatically retries on 429 (Too Many Requests) and 5xx server errors.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	// Apply defaults
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Source == "" && cfg.Queue != nil {
		cfg.Source = cfg.Queue.Name()
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		queue:   cfg.Queue,
		config:  cfg,
		logger:  logger.With().Str("component", "http_client").Str("source", cfg.Source).Logger(),
		metrics: cfg.Metrics,
	}
}

type priorityKey struct{}

// WithPriority attaches a queue priority to ctx. Requests built from the
// returned context are queued at that priority.
func WithPriority(ctx context.Context, priority int) context.Context {
	return context.WithValue(ctx, priorityKey{}, priority)
}

// PriorityFromContext returns the queue priority carried by ctx, or 0.
func PriorityFromContext(ctx context.Context) int {
	if p, ok := ctx.Value(priorityKey{}).(int); ok {
		return p
	}
	return 0
}

// Do executes an HTTP request through the request queue with retries.
// Each attempt, retries included, is a separate queued task at the priority
// carried by the request context. It sets the User-Agent and optional API
// key headers, retries on 429 (Too Many Requests) with Retry-After support
// and on 5xx server errors.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	// Set default headers
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	// Set API key if configured
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	ctx := req.Context()
	priority := PriorityFromContext(ctx)
	endpoint := endpointLabel(req.URL.Path)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		start := time.Now()
		resp, err := Enqueue(ctx, c.queue, priority, func(context.Context) (*http.Response, error) {
			return c.client.Do(req)
		})
		if c.metrics != nil && !errors.Is(err, domain.ErrQueueCleared) {
			c.metrics.RecordSourceRequest(c.config.Source, endpoint, time.Since(start).Seconds())
		}
		if err != nil {
			// Check for context cancellation
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrQueueCleared) {
				return nil, err
			}
			c.recordFailure(endpoint, "network")
			lastErr = fmt.Errorf("request failed: %w", err)
			// Continue to retry on network errors
			if attempt < c.config.MaxRetries {
				c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying after network error")
				if err := c.waitForRetry(ctx, c.config.RetryDelay); err != nil {
					return nil, err
				}
				// Reset body if possible for retry
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, lastErr
		}

		// Check if we should retry based on status code
		if c.shouldRetry(resp.StatusCode) {
			retryDelay := c.getRetryDelay(resp)
			status := resp.StatusCode

			// Close the response body to free resources before retry
			if resp.Body != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}

			if status == http.StatusTooManyRequests {
				c.recordFailure(endpoint, "rate_limited")
				if c.metrics != nil {
					c.metrics.RecordSourceRateLimited(c.config.Source)
				}
			} else {
				c.recordFailure(endpoint, "server_error")
			}

			if attempt < c.config.MaxRetries {
				lastErr = fmt.Errorf("server returned status %d", status)
				c.logger.Debug().
					Int("status", status).
					Int("attempt", attempt+1).
					Dur("retry_delay", retryDelay).
					Msg("retrying after retryable status")
				if err := c.waitForRetry(ctx, retryDelay); err != nil {
					return nil, err
				}
				// Reset body if possible for retry
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}

			// Max retries exhausted
			if status == http.StatusTooManyRequests {
				return nil, fmt.Errorf("max retries exhausted after %d attempts, last status: %d: %w",
					c.config.MaxRetries+1, status, domain.NewRateLimitError(c.config.Source, retryDelay))
			}
			return nil, domain.NewExternalAPIError(c.config.Source, status,
				fmt.Sprintf("max retries exhausted after %d attempts", c.config.MaxRetries+1),
				domain.ErrServiceUnavailable)
		}

		// Success or non-retryable error
		return resp, nil
	}

	// Should not reach here, but handle edge case
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

func (c *HTTPClient) recordFailure(endpoint, errorType string) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequestFailed(c.config.Source, endpoint, errorType)
	}
}

// shouldRetry returns true if the status code indicates we should retry.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	// Retry on 429 Too Many Requests
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	// Retry on 5xx server errors
	return statusCode >= 500 && statusCode < 600
}

// getRetryDelay determines how long to wait before retrying.
// It respects the Retry-After header if present, otherwise uses the configured retry delay.
func (c *HTTPClient) getRetryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	// Try to parse as seconds
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	// Try to parse as HTTP date
	if t, err := http.ParseTime(retryAfter); err == nil {
		delay := time.Until(t)
		if delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

// endpointLabel reduces a URL path to a short metric label, e.g.
// "/entrez/eutils/esearch.fcgi" becomes "esearch".
func endpointLabel(p string) string {
	base := path.Base(p)
	if base == "/" || base == "." || base == "" {
		return "root"
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
