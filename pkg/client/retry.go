package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limit waits.
var (
	slackRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_rate_limited_total",
		Help: "Total number of 429 responses by endpoint",
	}, []string{"endpoint"})

	slackRateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slack_rate_limit_wait_seconds",
		Help:    "Time spent waiting out rate limits by endpoint",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	}, []string{"endpoint"})

	slackRateLimitExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_rate_limit_exhausted_total",
		Help: "Total number of times the configured rate limit retry bound was hit",
	}, []string{"endpoint"})
)

// deliver issues req until Slack gives a definitive answer. Every 429 is
// waited out for exactly its Retry-After and the same request is sent again.
// With MaxRateLimitRetries == 0 there is no bound.
func (c *Client) deliver(ctx context.Context, req Request) (*Page, error) {
	if err := c.awaitCooldown(ctx, req.Endpoint); err != nil {
		return nil, err
	}

	retries := 0
	for {
		page, err := c.attempt(ctx, req)
		retryAfter, limited := isRateLimited(err)
		if !limited {
			if err == nil && retries > 0 {
				c.logger.Info().
					Str("endpoint", req.Endpoint).
					Int("retries", retries).
					Msg("Request admitted after rate limit")
			}
			return page, err
		}

		retries++
		slackRateLimitedTotal.WithLabelValues(req.Endpoint).Inc()

		if limit := c.config.MaxRateLimitRetries; limit > 0 && retries > limit {
			slackRateLimitExhaustedTotal.WithLabelValues(req.Endpoint).Inc()
			c.logger.Error().
				Str("endpoint", req.Endpoint).
				Int("max_retries", limit).
				Msg("Rate limit retries exhausted")
			return nil, fmt.Errorf("%s: %w after %d retries", req.Endpoint, ErrRateLimitExhausted, limit)
		}

		if err := c.rateLimiter.Record(ctx, req.Endpoint, retryAfter); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to share rate limit cooldown")
		}

		c.logger.Warn().
			Str("endpoint", req.Endpoint).
			Dur("retry_after", retryAfter).
			Int("attempt", retries).
			Msg("Rate limited, waiting before retry")

		slackRateLimitWaitSeconds.WithLabelValues(req.Endpoint).Observe(retryAfter.Seconds())
		if err := c.sleep(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
}

// awaitCooldown holds off while another process has recorded a rate limit
// window for the endpoint. It is a no-op without Redis.
func (c *Client) awaitCooldown(ctx context.Context, endpoint string) error {
	if !c.rateLimiter.Enabled() {
		return nil
	}

	wait, err := c.rateLimiter.Wait(ctx, endpoint)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cooldown check failed")
		return nil
	}
	if wait <= 0 {
		return nil
	}

	slackRateLimitWaitSeconds.WithLabelValues(endpoint).Observe(wait.Seconds())
	return c.sleep(ctx, wait)
}

// sleepContext waits for d, returning early if ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
