// Package cache defines the byte cache port used for web search results.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under arbitrary string keys. Get reports a miss
// as (nil, false, nil); errors are reserved for backend failures. Deleting an
// absent key succeeds.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
