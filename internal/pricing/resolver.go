package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/portfolio-valuation/internal/adapter"
	"github.com/portfolio-valuation/internal/circuitbreaker"
	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/retry"
)

// QuoteRecorder archives freshly fetched quotes
type QuoteRecorder interface {
	RecordQuotes(ctx context.Context, quotes []models.PriceQuote) error
}

// Options configures a Resolver
type Options struct {
	TTL time.Duration
	// MaxConcurrency caps in-flight provider lookups across all callers
	MaxConcurrency  int
	ProviderTimeout time.Duration
	// RetryDelay is the pause before the single retry against a provider
	RetryDelay time.Duration
	// Breaker builds the circuit breaker config for a provider; nil uses defaults
	Breaker  func(provider string) *circuitbreaker.Config
	Recorder QuoteRecorder
}

// DefaultOptions returns the resolver defaults
func DefaultOptions() Options {
	return Options{
		TTL:             DefaultTTL,
		MaxConcurrency:  8,
		ProviderTimeout: 5 * time.Second,
		RetryDelay:      250 * time.Millisecond,
	}
}

type providerSlot struct {
	provider adapter.PriceProvider
	breaker  *circuitbreaker.CircuitBreaker
}

// Resolver resolves USD prices through the cache, then providers in priority
// order. Missing prices are reported as absent, never as zero.
type Resolver struct {
	providers []providerSlot
	cache     QuoteCache
	opts      Options
	now       func() time.Time

	flights singleflight.Group
	sem     *semaphore.Weighted

	hits             atomic.Int64
	misses           atomic.Int64
	providerCalls    atomic.Int64
	providerFailures atomic.Int64
	unavailable      atomic.Int64
	inFlight         atomic.Int64
}

// Stats is a point-in-time view of resolver activity
type Stats struct {
	CacheHits        int64   `json:"cacheHits"`
	CacheMisses      int64   `json:"cacheMisses"`
	HitRate          float64 `json:"hitRate"`
	ProviderCalls    int64   `json:"providerCalls"`
	ProviderFailures int64   `json:"providerFailures"`
	Unavailable      int64   `json:"unavailable"`
	InFlight         int64   `json:"inFlight"`
}

// NewResolver creates a resolver over providers (highest priority first)
func NewResolver(providers []adapter.PriceProvider, cache QuoteCache, opts Options) *Resolver {
	defaults := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaults.MaxConcurrency
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaults.ProviderTimeout
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if cache == nil {
		cache = NewMemoryQuoteCache(opts.TTL)
	}

	slots := make([]providerSlot, 0, len(providers))
	for _, p := range providers {
		cbCfg := circuitbreaker.DefaultConfig(p.Name())
		if opts.Breaker != nil {
			cbCfg = opts.Breaker(p.Name())
		}
		if cbCfg.IsFailure == nil {
			cbCfg.IsFailure = countsAgainstProvider
		}
		slots = append(slots, providerSlot{
			provider: p,
			breaker:  circuitbreaker.NewCircuitBreaker(cbCfg),
		})
	}

	return &Resolver{
		providers: slots,
		cache:     cache,
		opts:      opts,
		now:       time.Now,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

// countsAgainstProvider keeps unknown symbols and spent credit budgets from
// tripping the breaker
func countsAgainstProvider(err error) bool {
	return !apperrors.IsProviderNotFound(err) && !apperrors.HasCode(err, apperrors.CodeProviderBudget)
}

// Resolve returns quotes for the distinct symbols that could be priced.
// Keys are normalized (upper-case) symbols; unresolvable symbols are absent.
func (r *Resolver) Resolve(ctx context.Context, symbols []string) map[string]models.PriceQuote {
	distinct := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = models.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		distinct = append(distinct, s)
	}

	out := make(map[string]models.PriceQuote, len(distinct))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrency)
	for _, symbol := range distinct {
		symbol := symbol
		g.Go(func() error {
			if q, ok := r.ResolveOne(ctx, symbol); ok {
				mu.Lock()
				out[symbol] = q
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// ResolveOne returns a quote for symbol and whether one was found.
// Concurrent calls for the same symbol share one provider fetch.
func (r *Resolver) ResolveOne(ctx context.Context, symbol string) (models.PriceQuote, bool) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return models.PriceQuote{}, false
	}

	if q, ok := r.cache.Get(ctx, symbol); ok {
		r.hits.Add(1)
		return q, true
	}
	r.misses.Add(1)

	// The shared fetch outlives any single caller; provider timeouts bound it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(symbol, func() (interface{}, error) {
		return r.fetch(fetchCtx, symbol)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.PriceQuote{}, false
		}
		return res.Val.(models.PriceQuote), true
	case <-ctx.Done():
		return models.PriceQuote{}, false
	}
}

// fetch walks the provider chain for one symbol
func (r *Resolver) fetch(ctx context.Context, symbol string) (models.PriceQuote, error) {
	logger := logging.FromContext(ctx).WithField("symbol", symbol)

	// a flight that just finished may already have filled the cache
	if q, ok := r.cache.Get(ctx, symbol); ok {
		return q, nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return models.PriceQuote{}, err
	}
	defer r.sem.Release(1)

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	for _, slot := range r.providers {
		price, err := r.callProvider(ctx, slot, symbol)
		if err != nil {
			r.providerFailures.Add(1)
			logger.WithError(err).WithField("provider", slot.provider.Name()).Debug("Price provider failed, falling through")
			continue
		}

		quote := models.PriceQuote{
			Symbol:         symbol,
			USDPrice:       price,
			SourceProvider: slot.provider.Name(),
			FetchedAt:      r.now().UTC(),
		}
		r.cache.Set(ctx, quote)
		r.record(ctx, quote)
		return quote, nil
	}

	r.unavailable.Add(1)
	logger.Warn("Price unavailable from all providers")
	return models.PriceQuote{}, apperrors.NewPriceUnavailableError([]string{symbol})
}

// callProvider asks one provider, retrying once on timeouts and HTTP failures
func (r *Resolver) callProvider(ctx context.Context, slot providerSlot, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := retry.Do(ctx, retry.OnceConfig(r.opts.RetryDelay, apperrors.IsRetryable), func(ctx context.Context, attempt int) error {
		return slot.breaker.Execute(ctx, func(ctx context.Context) error {
			r.providerCalls.Add(1)

			callCtx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
			defer cancel()

			p, err := slot.provider.GetPrice(callCtx, symbol)
			if err != nil {
				return err
			}
			if p.Sign() <= 0 {
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"provider": slot.provider.Name(),
					"symbol":   symbol,
					"price":    p.String(),
				}).Warn("Provider returned non-positive price, ignoring")
				return apperrors.NewProviderNotFoundError(slot.provider.Name(), symbol)
			}
			price = p
			return nil
		})
	})
	return price, err
}

func (r *Resolver) record(ctx context.Context, quote models.PriceQuote) {
	if r.opts.Recorder == nil {
		return
	}
	if err := r.opts.Recorder.RecordQuotes(ctx, []models.PriceQuote{quote}); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", quote.Symbol).Warn("Failed to archive price quote")
	}
}

// Providers returns the provider names in priority order
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, slot := range r.providers {
		names[i] = slot.provider.Name()
	}
	return names
}

// BreakerStates returns the circuit state of each provider
func (r *Resolver) BreakerStates() map[string]circuitbreaker.State {
	states := make(map[string]circuitbreaker.State, len(r.providers))
	for _, slot := range r.providers {
		states[slot.provider.Name()] = slot.breaker.GetState()
	}
	return states
}

// GetStats returns resolver statistics
func (r *Resolver) GetStats() Stats {
	hits := r.hits.Load()
	misses := r.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		CacheHits:        hits,
		CacheMisses:      misses,
		HitRate:          hitRate,
		ProviderCalls:    r.providerCalls.Load(),
		ProviderFailures: r.providerFailures.Load(),
		Unavailable:      r.unavailable.Load(),
		InFlight:         r.inFlight.Load(),
	}
}
