package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cachePrefix = "pricing:offer:"

// CacheKey identifies an offer by supplier, category, country, currency and list price.
func CacheKey(req Request) string {
	return cachePrefix + url.QueryEscape(req.Supplier) + ":" + url.QueryEscape(req.Category) + ":" +
		url.QueryEscape(req.Country) + ":" + req.Currency + ":" + req.ListPrice.String()
}

func supplierPattern(supplier string) string {
	return cachePrefix + url.QueryEscape(supplier) + ":*"
}

// CachedEngine memoises offers in Redis. Offers are a pure function of the
// request and the contract table, so only contract changes need invalidation.
type CachedEngine struct {
	engine *Engine
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedEngine wraps engine. A nil client disables caching.
func NewCachedEngine(engine *Engine, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedEngine {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedEngine{engine: engine, client: client, ttl: ttl, logger: logger}
}

// Price returns a cached offer or computes and stores a fresh one. Cache
// failures are logged and never fail the quote.
func (c *CachedEngine) Price(ctx context.Context, req Request) (Offer, error) {
	req = c.engine.Normalize(req)
	if c.client == nil || !req.ListPrice.IsPositive() {
		return c.engine.Price(ctx, req)
	}
	key := CacheKey(req)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var offer Offer
		if err := json.Unmarshal(data, &offer); err == nil {
			return offer, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("key", key).Msg("pricing_cache_get_failed")
	}

	offer, err := c.engine.Price(ctx, req)
	if err != nil {
		return Offer{}, err
	}
	data, err := json.Marshal(offer)
	if err == nil {
		err = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("pricing_cache_set_failed")
	}
	return offer, nil
}

// InvalidateSupplier drops every cached offer for supplier.
func (c *CachedEngine) InvalidateSupplier(ctx context.Context, supplier string) error {
	if c == nil || c.client == nil {
		return nil
	}
	var cursor uint64
	pattern := supplierPattern(supplier)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
