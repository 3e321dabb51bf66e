// Package ratelimit implements Slack rate limit handling.
// It parses the Retry-After header of HTTP 429 responses and shares the
// resulting per-endpoint cooldown between processes through Redis.
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the header Slack sets on 429 responses.
const HeaderRetryAfter = "Retry-After"

// RedisKeyPrefix prefixes the per-endpoint cooldown keys.
const RedisKeyPrefix = "slack:rate_limit:"

var (
	// ErrMissingRetryAfter is returned when a 429 response has no Retry-After header.
	ErrMissingRetryAfter = errors.New("retry-after header missing")

	// ErrInvalidRetryAfter is returned when Retry-After is not a non-negative integer.
	ErrInvalidRetryAfter = errors.New("retry-after header invalid")
)

// ParseRetryAfter reads the wait duration from a 429 response's headers.
// Slack sends a whole number of seconds; HTTP-date values are rejected.
func ParseRetryAfter(headers http.Header) (time.Duration, error) {
	raw := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if raw == "" {
		return 0, ErrMissingRetryAfter
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRetryAfter, raw)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: negative value %d", ErrInvalidRetryAfter, seconds)
	}

	return time.Duration(seconds) * time.Second, nil
}

// Cooldown is the rate limit window recorded for one endpoint.
type Cooldown struct {
	// Endpoint is the Slack method name, e.g. conversations.history.
	Endpoint string `json:"endpoint"`

	// BlockedUntil is when the provider will accept requests again.
	BlockedUntil time.Time `json:"blocked_until"`
}

// Remaining returns how long to wait at now. Returns 0 once the window passed.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	d := c.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Active reports whether the cooldown still blocks requests at now.
func (c Cooldown) Active(now time.Time) bool {
	return c.Remaining(now) > 0
}

// redisKey returns the cooldown key for an endpoint.
func redisKey(endpoint string) string {
	return RedisKeyPrefix + endpoint
}
