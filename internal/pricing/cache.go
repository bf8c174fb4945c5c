// Package pricing resolves spot USD prices from an ordered list of providers
// behind a short-lived quote cache.
package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
)

// DefaultTTL is how long a fetched quote stays valid
const DefaultTTL = 5 * time.Minute

// QuoteCache stores quotes by normalized symbol. Get only returns quotes that
// are still within the cache TTL; an expired quote is reported as absent.
type QuoteCache interface {
	Get(ctx context.Context, symbol string) (models.PriceQuote, bool)
	Set(ctx context.Context, quote models.PriceQuote)
}

// MemoryQuoteCache is a process-local QuoteCache with TTL eviction
type MemoryQuoteCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]models.PriceQuote
}

// NewMemoryQuoteCache creates an in-memory cache. ttl <= 0 uses DefaultTTL.
func NewMemoryQuoteCache(ttl time.Duration) *MemoryQuoteCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryQuoteCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]models.PriceQuote),
	}
}

// Get returns a fresh quote for symbol
func (c *MemoryQuoteCache) Get(ctx context.Context, symbol string) (models.PriceQuote, bool) {
	c.mu.RLock()
	q, ok := c.entries[models.NormalizeSymbol(symbol)]
	c.mu.RUnlock()

	if !ok || !q.IsFresh(c.now(), c.ttl) {
		return models.PriceQuote{}, false
	}
	return q, true
}

// Set stores quote, replacing any earlier quote for the symbol
func (c *MemoryQuoteCache) Set(ctx context.Context, quote models.PriceQuote) {
	key := models.NormalizeSymbol(quote.Symbol)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = quote
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryQuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired drops expired quotes and returns how many were removed
func (c *MemoryQuoteCache) EvictExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, q := range c.entries {
		if !q.IsFresh(now, c.ttl) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Run evicts expired entries every interval until ctx is done
func (c *MemoryQuoteCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictExpired(); n > 0 {
				logging.FromContext(ctx).WithField("evicted", n).Debug("Evicted expired price quotes")
			}
		}
	}
}
