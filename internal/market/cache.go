package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-smc/internal/model"

	"go.uber.org/zap"
)

// Cache stores encoded candle batches under string keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a thread-safe in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns a live entry or ErrCacheMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value until ttl elapses.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats counts cache lookups.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// CachedFeed serves candles from a Cache and falls through to the wrapped feed.
type CachedFeed struct {
	feed   Feed
	cache  Cache
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedFeed wraps feed with cache. Keys are prefix:symbol:timeframe:limit.
func NewCachedFeed(feed Feed, cache Cache, prefix string, logger *zap.Logger) *CachedFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "smc:candles"
	}
	return &CachedFeed{feed: feed, cache: cache, prefix: prefix, logger: logger}
}

// Name implements Feed.
func (f *CachedFeed) Name() string { return "cached(" + f.feed.Name() + ")" }

// Candles implements Feed. Cache failures other than a miss are logged and
// bypassed.
func (f *CachedFeed) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	key := fmt.Sprintf("%s:%s:%s:%d", f.prefix, symbol, timeframe, limit)

	raw, err := f.cache.Get(ctx, key)
	if err == nil {
		var candles []model.Candle
		if err := json.Unmarshal(raw, &candles); err == nil {
			f.hits.Add(1)
			return candles, nil
		}
		f.logger.Warn("cache_decode_failed", zap.String("key", key))
	} else if !errors.Is(err, ErrCacheMiss) {
		f.logger.Warn("cache_get_failed", zap.String("key", key), zap.Error(err))
	}
	f.misses.Add(1)

	candles, err := f.feed.Candles(ctx, symbol, timeframe, limit)
	if err != nil || len(candles) == 0 {
		return candles, err
	}
	if raw, err := json.Marshal(candles); err == nil {
		if err := f.cache.Set(ctx, key, raw, CacheTTL(timeframe)); err != nil {
			f.logger.Warn("cache_set_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return candles, nil
}

// Stats returns hit and miss counts.
func (f *CachedFeed) Stats() CacheStats {
	return CacheStats{Hits: f.hits.Load(), Misses: f.misses.Load()}
}
