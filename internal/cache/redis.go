// Package cache holds the read-through availability cache in front of the
// reservation ledger. It is optional: a nil *AvailabilityCache does nothing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "inventory-ledger:availability:"

// DefaultTTL replaces a non-positive TTL. Every entry expires: a read that
// races a write can store a value from before the write, and the TTL is the
// longest such a value is served.
const DefaultTTL = 30 * time.Second

// NewRedisClient connects and pings. Callers skip it when cfg.Addr is empty.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// AvailabilityCache stores core.Availability snapshots per item. Cache errors
// are logged and treated as misses; the database stays authoritative.
type AvailabilityCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

func NewAvailabilityCache(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *AvailabilityCache {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AvailabilityCache{client: client, ttl: ttl, log: log}
}

func key(itemID int) string {
	return fmt.Sprintf("%s%d", keyPrefix, itemID)
}

func (c *AvailabilityCache) Get(ctx context.Context, itemID int) (*core.Availability, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key(itemID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("availability cache read failed", zap.Int("item_id", itemID), zap.Error(err))
		}
		return nil, false
	}
	var a core.Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		c.log.Warn("availability cache entry corrupt", zap.Int("item_id", itemID), zap.Error(err))
		return nil, false
	}
	return &a, true
}

func (c *AvailabilityCache) Set(ctx context.Context, a core.Availability) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(a.ItemID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("availability cache write failed", zap.Int("item_id", a.ItemID), zap.Error(err))
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, itemIDs ...int) {
	if c == nil || len(itemIDs) == 0 {
		return
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("availability cache invalidation failed", zap.Ints("item_ids", itemIDs), zap.Error(err))
	}
}

// Purge drops every cached snapshot. Used after reservation sweeps, which
// do not report which items they touched.
func (c *AvailabilityCache) Purge(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("availability cache scan failed", zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.Warn("availability cache purge failed", zap.Error(err))
		}
	}
}
