package cache

import (
	"fmt"
	"sort"
	"strings"
)

// CacheKey identifies a cached Slack method result.
type CacheKey struct {
	// Endpoint is the Slack method name (e.g., "users.info")
	Endpoint string

	// Params are the method arguments that select the object (e.g., {"user": "U1"})
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: slack:endpoint:param1=val1:param2=val2
//
// Example:
//
//	slack:users.info:user=U024BE7LH
func (k CacheKey) String() string {
	parts := []string{"slack"}

	if endpoint := strings.TrimSpace(k.Endpoint); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}
