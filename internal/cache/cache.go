package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 6 * time.Hour

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// PriceCache shares the latest snapshot of a product between all users for a
// limited time. Redis failures are logged and reported as cache misses.
type PriceCache struct {
	client RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

func New(client RedisClient, ttl time.Duration, logger *slog.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

func Key(site models.Site, productID string) string {
	return fmt.Sprintf("price:%s:%s", site, productID)
}

// Get returns the cached snapshot, or false on a miss.
func (c *PriceCache) Get(ctx context.Context, site models.Site, productID string) (*models.Snapshot, bool) {
	key := Key(site, productID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	if !snap.Record.Found() {
		return nil, false
	}
	return &snap, true
}

// Set stores snap under its product key. Snapshots without a product name
// are never cached.
func (c *PriceCache) Set(ctx context.Context, snap *models.Snapshot) {
	if snap == nil || !snap.Record.Found() {
		return
	}

	key := Key(snap.Site, snap.ProductID)
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *PriceCache) Invalidate(ctx context.Context, site models.Site, productID string) {
	key := Key(site, productID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "key", key, "error", err)
	}
}
