// Package metrics provides the Prometheus registry shared by the Slack client
// packages and pushes it to a Pushgateway at the end of a batch run.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, report, storage) to avoid circular dependencies.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultJob is the Pushgateway job name of report runs.
const DefaultJob = "slack_report"

// Registry is the default Prometheus registry used by the client packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is what Push sends.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Push sends every gathered metric to the Pushgateway at url under job,
// replacing the previous push of the same job and grouping.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}

	pusher := push.New(url, job).Gatherer(Gatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - slack_requests_total{endpoint, status} (Counter): Requests by method and HTTP status
//   - slack_request_duration_seconds{endpoint} (Histogram): Request duration by method
//   - slack_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode, provider)
//   - slack_pages_fetched_total{endpoint} (Counter): Pages appended to fetch results
//
// Rate Limit Metrics (pkg/client, pkg/ratelimit):
//   - slack_rate_limited_total{endpoint} (Counter): 429 responses
//   - slack_rate_limit_wait_seconds{endpoint} (Histogram): Time spent waiting out Retry-After
//   - slack_rate_limit_exhausted_total{endpoint} (Counter): Configured retry bound hit
//   - slack_rate_limit_cooldowns_recorded_total{endpoint} (Counter): Windows shared through Redis
//   - slack_rate_limit_cooldown_hits_total{endpoint} (Counter): Requests delayed by a shared window
//
// Cache Metrics (pkg/cache):
//   - slack_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - slack_cache_misses_total (Counter): Misses
//   - slack_cache_errors_total{operation} (Counter): Redis operation errors
//
// Report Metrics (pkg/report, pkg/storage):
//   - slack_report_messages_total{kind} (Counter): Messages written (match, reply)
//   - slack_report_runs_total{outcome} (Counter): Runs (stored, empty, error)
//   - slack_report_uploads_total{outcome} (Counter): S3 uploads
//   - slack_report_upload_bytes_total (Counter): Bytes uploaded
//
// Example Prometheus Queries:
//
//   # Time lost to rate limiting per run
//   sum(slack_rate_limit_wait_seconds_sum)
//
//   # User cache hit rate
//   sum(slack_cache_hits_total) / (sum(slack_cache_hits_total) + slack_cache_misses_total)
