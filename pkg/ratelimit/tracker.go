package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared cooldown tracking.
var (
	slackCooldownsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_rate_limit_cooldowns_recorded_total",
		Help: "Total number of rate limit windows recorded by endpoint",
	}, []string{"endpoint"})

	slackCooldownHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_rate_limit_cooldown_hits_total",
		Help: "Total number of requests delayed by a cooldown recorded by another request",
	}, []string{"endpoint"})
)

// Tracker shares per-endpoint rate limit windows through Redis so that other
// runs against the same workspace hold off while Slack is throttling.
// A Tracker without a Redis client is a no-op.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether cooldowns are shared.
func (t *Tracker) Enabled() bool {
	return t != nil && t.redis != nil
}

// Record stores the window announced by a 429 response. The key expires with
// the window, so a missing key means the endpoint is not throttled.
func (t *Tracker) Record(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	if !t.Enabled() || retryAfter <= 0 {
		return nil
	}

	blockedUntil := t.now().Add(retryAfter)
	if err := t.redis.Set(ctx, redisKey(endpoint), blockedUntil.UnixMilli(), retryAfter).Err(); err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	slackCooldownsRecordedTotal.WithLabelValues(endpoint).Inc()
	t.logger.Debug().
		Str("endpoint", endpoint).
		Time("blocked_until", blockedUntil).
		Msg("Rate limit cooldown recorded")

	return nil
}

// Get returns the cooldown stored for an endpoint. The zero Cooldown means
// none is recorded.
func (t *Tracker) Get(ctx context.Context, endpoint string) (Cooldown, error) {
	if !t.Enabled() {
		return Cooldown{Endpoint: endpoint}, nil
	}

	millis, err := t.redis.Get(ctx, redisKey(endpoint)).Int64()
	if err == redis.Nil {
		return Cooldown{Endpoint: endpoint}, nil
	}
	if err != nil {
		return Cooldown{}, fmt.Errorf("get cooldown: %w", err)
	}

	return Cooldown{
		Endpoint:     endpoint,
		BlockedUntil: time.UnixMilli(millis),
	}, nil
}

// Wait returns how long a caller must hold off before calling endpoint.
func (t *Tracker) Wait(ctx context.Context, endpoint string) (time.Duration, error) {
	cooldown, err := t.Get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	remaining := cooldown.Remaining(t.now())
	if remaining > 0 {
		slackCooldownHitsTotal.WithLabelValues(endpoint).Inc()
		t.logger.Warn().
			Str("endpoint", endpoint).
			Dur("wait_duration", remaining).
			Msg("Endpoint cooling down after rate limit")
	}
	return remaining, nil
}
