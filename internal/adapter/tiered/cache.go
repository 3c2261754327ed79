// Package tiered layers an in-process cache over a shared remote one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/taskrunner/internal/port/cache"
)

// Cache reads through local to remote and writes to both. The remote tier is
// best effort: its failures are logged and reported as misses.
type Cache struct {
	local     cache.Cache
	remote    cache.Cache
	refillTTL time.Duration
}

// New returns a Cache. Entries pulled from remote are kept locally for refillTTL.
func New(local, remote cache.Cache, refillTTL time.Duration) *Cache {
	return &Cache{local: local, remote: remote, refillTTL: refillTTL}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, err := c.local.Get(ctx, key); err != nil || ok {
		return val, ok, err
	}

	val, ok, err := c.remote.Get(ctx, key)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "remote cache read failed", "key", key, "error", err)
		return nil, false, nil
	case !ok:
		return nil, false, nil
	}
	if err := c.local.Set(ctx, key, val, c.refillTTL); err != nil {
		slog.DebugContext(ctx, "local cache refill failed", "key", key, "error", err)
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "remote cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key locally first so a remote failure cannot leave a stale
// local copy behind.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.remote.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "remote cache delete failed", "key", key, "error", err)
	}
	return nil
}
