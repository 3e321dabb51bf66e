// Package cache memoises Slack lookups that do not change during a run,
// such as users.info, with an optional Redis layer shared between runs.
//
// Every Manager keeps an in-process memory layer. When a Redis client is
// given, entries are also written to Redis with a TTL and read back on a
// memory miss, so repeated report runs do not call users.info again for the
// same people.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, time.Hour) // redisClient may be nil
//
//	key := cache.CacheKey{
//		Endpoint: "users.info",
//		Params:   map[string]string{"user": "U024BE7LH"},
//	}
//
//	data, err := manager.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
//		// Call Slack
//	})
//
// # Metrics
//
//   - slack_cache_hits_total{layer="memory"|"redis"} - Cache hits
//   - slack_cache_misses_total - Cache misses
//   - slack_cache_errors_total{operation} - Redis operation errors
package cache
