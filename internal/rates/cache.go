package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider memoizes snapshots in Redis so many viewers polling the
// same base currency share one upstream fetch per interval. Cache failures
// degrade to direct fetches.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(base string) string { return "rates:current:" + base }

func (c *CachedProvider) Rates(ctx context.Context, base string) (*Snapshot, error) {
	cached, err := c.client.Get(ctx, cacheKey(base)).Bytes()
	if err == nil {
		var snap Snapshot
		if unmarshalErr := json.Unmarshal(cached, &snap); unmarshalErr == nil {
			return &snap, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("rates cache read failed", "error", err)
	}

	snap, err := c.inner.Rates(ctx, base)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if setErr := c.client.Set(ctx, cacheKey(base), payload, c.ttl).Err(); setErr != nil {
		c.logger.Warn("rates cache write failed", "error", setErr)
	}
	return snap, nil
}
