package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
)

const redisKeyPrefix = "price:"

// RedisQuoteCache shares quotes between processes through Redis.
// Keys expire with the TTL; FetchedAt is checked as well so a clock-skewed
// entry is never served past its age.
type RedisQuoteCache struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisQuoteCache creates a Redis-backed cache. ttl <= 0 uses DefaultTTL.
func NewRedisQuoteCache(client redis.Cmdable, ttl time.Duration) *RedisQuoteCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisQuoteCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func redisKey(symbol string) string {
	return redisKeyPrefix + models.NormalizeSymbol(symbol)
}

// Get returns a fresh quote for symbol. Redis errors are logged and treated
// as a miss.
func (c *RedisQuoteCache) Get(ctx context.Context, symbol string) (models.PriceQuote, bool) {
	raw, err := c.client.Get(ctx, redisKey(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.FromContext(ctx).WithError(err).WithField("symbol", symbol).Warn("Price cache read failed")
		}
		return models.PriceQuote{}, false
	}

	var q models.PriceQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", symbol).Warn("Discarding undecodable cached quote")
		return models.PriceQuote{}, false
	}
	if !q.IsFresh(c.now(), c.ttl) {
		return models.PriceQuote{}, false
	}
	return q, true
}

// Set stores quote with an expiry equal to its remaining lifetime
func (c *RedisQuoteCache) Set(ctx context.Context, quote models.PriceQuote) {
	remaining := c.ttl - c.now().Sub(quote.FetchedAt)
	if remaining <= 0 {
		return
	}

	raw, err := json.Marshal(quote)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", quote.Symbol).Warn("Failed to encode quote for cache")
		return
	}
	if err := c.client.Set(ctx, redisKey(quote.Symbol), raw, remaining).Err(); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", quote.Symbol).Warn("Price cache write failed")
	}
}
