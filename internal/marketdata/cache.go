package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/metrics"
)

const barKeyPrefix = "tradecore:bars:"

// BarCache keeps recent bar series hot in Redis.
type BarCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBarCache wraps an existing Redis client. ttl <= 0 defaults to one minute.
func NewBarCache(client *redis.Client, ttl time.Duration) *BarCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BarCache{client: client, ttl: ttl}
}

func barKey(symbol, interval string) string {
	return fmt.Sprintf("%s%s:%s", barKeyPrefix, symbol, interval)
}

// Get returns the cached series, or (nil, false) on a miss.
func (c *BarCache) Get(ctx context.Context, symbol, interval string) ([]domain.Bar, bool) {
	raw, err := c.client.Get(ctx, barKey(symbol, interval)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache read failed")
		}
		return nil, false
	}
	var bars []domain.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache entry corrupt, dropping")
		c.client.Del(ctx, barKey(symbol, interval))
		return nil, false
	}
	return bars, true
}

// Set stores the series under the configured TTL. Cache write failures are
// logged and swallowed; the loop never depends on the cache.
func (c *BarCache) Set(ctx context.Context, symbol, interval string, bars []domain.Bar) {
	raw, err := json.Marshal(bars)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, barKey(symbol, interval), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
	}
}

// CachedSource layers the cache in front of an upstream source.
type CachedSource struct {
	upstream Source
	cache    *BarCache
	metrics  *metrics.Registry
}

// NewCachedSource wires a cache in front of upstream. metrics may be nil.
func NewCachedSource(upstream Source, cache *BarCache, m *metrics.Registry) *CachedSource {
	return &CachedSource{upstream: upstream, cache: cache, metrics: m}
}

// GetBars serves from cache when the cached series covers limit, otherwise
// falls through and repopulates.
func (s *CachedSource) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	if bars, ok := s.cache.Get(ctx, symbol, interval); ok && len(bars) >= limit {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return bars[len(bars)-limit:], nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}
	bars, err := s.upstream.GetBars(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, symbol, interval, bars)
	return bars, nil
}
