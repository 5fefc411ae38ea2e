package cache

import (
	"context"
	"time"
)

// Cache stores short-lived string values such as provider minimums.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}
