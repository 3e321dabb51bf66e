// Package client provides the Slack Web API fetcher with cursor pagination
// and rate limit handling.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/slack-report/pkg/pagination"
	"github.com/Sternrassler/slack-report/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// Prometheus metrics for Slack client operations.
var (
	slackRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_requests_total",
		Help: "Total Slack API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	slackRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slack_request_duration_seconds",
		Help:    "Slack API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	slackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_errors_total",
		Help: "Total Slack API errors by class",
	}, []string{"class"})

	slackPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_pages_fetched_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})
)

// Client executes Slack Web API calls.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Web API, without trailing method name.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout for a single HTTP call. Rate limit waits are not included.
	Timeout time.Duration

	// MaxRateLimitRetries bounds consecutive 429 retries for one page.
	// 0 keeps retrying until Slack admits the request.
	MaxRateLimitRetries int

	// Redis is optional. When set, rate limit windows are shared with other
	// processes through it.
	Redis *redis.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:             DefaultBaseURL,
		UserAgent:           "slack-report/0.1.0",
		Timeout:             30 * time.Second,
		MaxRateLimitRetries: 0,
	}
}

// New creates a new Slack client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRateLimitRetries < 0 {
		return nil, fmt.Errorf("max_rate_limit_retries must be >= 0 (got %d)", cfg.MaxRateLimitRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "slack-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		config:      cfg,
		logger:      logger,
		sleep:       sleepContext,
	}, nil
}

// Fetch executes req and follows the cursor through every page. The pages are
// returned in request order. Rate limiting is waited out; any other failure
// aborts the fetch and is returned unchanged.
func (c *Client) Fetch(ctx context.Context, req Request) (FetchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var result FetchResult

	pages, err := pagination.Walk(ctx, req.Endpoint, func(ctx context.Context, cursor string) (pagination.Continuation, error) {
		page, err := c.deliver(ctx, req.withCursor(cursor))
		if err != nil {
			return pagination.Continuation{}, err
		}

		result = append(result, page)
		slackPagesFetchedTotal.WithLabelValues(req.Endpoint).Inc()

		return pagination.Continuation{
			HasMore:    page.HasMore,
			NextCursor: page.NextCursor(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("endpoint", req.Endpoint).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result, nil
}

// Call executes a single-page request such as chat.postMessage. Rate limiting
// is handled the same way as in Fetch; has_more is ignored.
func (c *Client) Call(ctx context.Context, req Request) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.deliver(ctx, req)
}

// attempt performs one HTTP call and classifies its outcome. A 429 comes back
// as *slack.RateLimitedError for the delivery loop to wait out.
func (c *Client) attempt(ctx context.Context, req Request) (*Page, error) {
	endpoint := req.Endpoint

	httpReq, err := req.newHTTPRequest(ctx, c.config.BaseURL)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.HTTPMethod).
		Bool("cursor", req.Params[CursorParam] != "").
		Msg("Executing Slack request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	slackRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		slackErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		slackRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &TransportError{
			Endpoint:   endpoint,
			ErrorClass: ErrorClassNetwork,
			Err:        err,
		}
	}
	defer resp.Body.Close()

	slackRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, err := ratelimit.ParseRetryAfter(resp.Header)
		if err != nil {
			slackErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &TransportError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassRateLimit,
				Err:        err,
			}
		}
		return nil, &slack.RateLimitedError{RetryAfter: retryAfter}
	}

	if errClass := classifyStatus(resp.StatusCode); errClass != "" {
		slackErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Slack request error")
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slackErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Err:        fmt.Errorf("read response body: %w", err),
		}
	}

	page, err := DecodePage(body)
	if err != nil {
		slackErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Err:        err,
		}
	}

	if !page.OK {
		slackErrorsTotal.WithLabelValues(string(ErrorClassProvider)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("error", page.Error).
			Strs("messages", page.ResponseMetadata.Messages).
			Msg("Slack API returned ok=false")
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Code:       page.Error,
			Metadata:   page.ResponseMetadata,
		}
	}

	if page.Warning != "" {
		c.logger.Debug().Str("endpoint", endpoint).Str("warning", page.Warning).Msg("Slack API warning")
	}

	return page, nil
}

// classifyStatus returns the error class of a non-2xx status other than 429,
// or "" for success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// isRateLimited extracts the wait from a rate-limited attempt.
func isRateLimited(err error) (time.Duration, bool) {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetSleeper replaces the rate limit wait (for testing with simulated time).
func (c *Client) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
}
