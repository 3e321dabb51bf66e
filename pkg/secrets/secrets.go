// Package secrets resolves credentials and settings from the environment,
// AWS Secrets Manager and SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotConfigured is returned when a value is absent from every source.
var ErrNotConfigured = errors.New("not configured")

// Lookup resolves one value. It returns ErrNotConfigured (possibly wrapped)
// when its source has no value, and any other error when the source failed.
type Lookup func(ctx context.Context) (string, error)

// Static returns a lookup for an already known value, e.g. from config.
// An empty value counts as absent.
func Static(value string) Lookup {
	return func(context.Context) (string, error) {
		if value == "" {
			return "", ErrNotConfigured
		}
		return value, nil
	}
}

// Env returns a lookup for an environment variable. Unset and empty are
// both absent.
func Env(key string) Lookup {
	return func(context.Context) (string, error) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, nil
		}
		return "", fmt.Errorf("env %s: %w", key, ErrNotConfigured)
	}
}

// Resolve tries each lookup in order and returns the first value found.
// Absence falls through to the next tier; any other failure stops the
// chain. name labels the value in the returned error.
func Resolve(ctx context.Context, name string, tiers ...Lookup) (string, error) {
	for _, lookup := range tiers {
		v, err := lookup(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotConfigured) {
			return "", fmt.Errorf("resolve %s: %w", name, err)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("resolve %s: %w", name, ctx.Err())
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotConfigured)
}
