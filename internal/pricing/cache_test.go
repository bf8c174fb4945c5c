package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuation/internal/models"
)

func quoteAt(symbol string, price string, at time.Time) models.PriceQuote {
	return models.PriceQuote{
		Symbol:         symbol,
		USDPrice:       decimal.RequireFromString(price),
		SourceProvider: "coingecko",
		FetchedAt:      at,
	}
}

func TestMemoryQuoteCache_TTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryQuoteCache(5 * time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, quoteAt("btc", "67000", now))

	q, ok := c.Get(ctx, "BTC")
	require.True(t, ok)
	assert.Equal(t, "coingecko", q.SourceProvider)

	now = now.Add(5 * time.Minute)
	_, ok = c.Get(ctx, "BTC")
	assert.False(t, ok, "quote exactly TTL old must be treated as absent")
}

func TestMemoryQuoteCache_EvictExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryQuoteCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, quoteAt("BTC", "1", now.Add(-2*time.Minute)))
	c.Set(ctx, quoteAt("ETH", "1", now))
	c.Set(ctx, quoteAt("", "1", now))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(ctx, "ETH")
	assert.True(t, ok)
}

func TestMemoryQuoteCache_RunStopsOnCancel(t *testing.T) {
	c := NewMemoryQuoteCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func newMiniredisCache(t *testing.T, ttl time.Duration) (*RedisQuoteCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQuoteCache(client, ttl), mr
}

func TestRedisQuoteCache_SetGet(t *testing.T) {
	c, mr := newMiniredisCache(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	c.Set(ctx, quoteAt("eth", "3100.5", now))

	assert.True(t, mr.Exists("price:ETH"))
	ttl := mr.TTL("price:ETH")
	assert.Greater(t, ttl, 4*time.Minute)
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	q, ok := c.Get(ctx, "ETH")
	require.True(t, ok)
	assert.True(t, q.USDPrice.Equal(decimal.RequireFromString("3100.5")))
	assert.Equal(t, "coingecko", q.SourceProvider)
}

func TestRedisQuoteCache_KeyExpiry(t *testing.T) {
	c, mr := newMiniredisCache(t, 5*time.Minute)
	ctx := context.Background()

	c.Set(ctx, quoteAt("SOL", "140", time.Now()))
	mr.FastForward(6 * time.Minute)

	_, ok := c.Get(ctx, "SOL")
	assert.False(t, ok)
}

func TestRedisQuoteCache_StaleFetchedAtIsAbsent(t *testing.T) {
	c, mr := newMiniredisCache(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(ctx, quoteAt("BTC", "1", now.Add(-10*time.Minute)))
	assert.False(t, mr.Exists("price:BTC"), "already-expired quotes are not written")

	c.Set(ctx, quoteAt("BTC", "1", now))
	now = now.Add(6 * time.Minute)
	_, ok := c.Get(ctx, "BTC")
	assert.False(t, ok)
}

func TestRedisQuoteCache_GarbageIsMiss(t *testing.T) {
	c, mr := newMiniredisCache(t, 5*time.Minute)
	require.NoError(t, mr.Set("price:BTC", "not json"))

	_, ok := c.Get(context.Background(), "BTC")
	assert.False(t, ok)
}

func TestRedisQuoteCache_UnavailableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	c := NewRedisQuoteCache(client, 5*time.Minute)

	c.Set(context.Background(), quoteAt("BTC", "1", time.Now()))
	_, ok := c.Get(context.Background(), "BTC")
	assert.False(t, ok)
}
