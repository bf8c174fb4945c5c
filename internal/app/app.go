// Package app wires configuration, storage, the price resolver and the
// services shared by the server and the snapshot worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-valuation/internal/adapter"
	"github.com/portfolio-valuation/internal/config"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/pricing"
	"github.com/portfolio-valuation/internal/ratelimit"
	"github.com/portfolio-valuation/internal/service"
	"github.com/portfolio-valuation/internal/storage"
)

// cacheSweepInterval is how often the memory price cache drops expired quotes
const cacheSweepInterval = time.Minute

// App holds the live dependencies of a process
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB

	Resolver    *pricing.Resolver
	MemoryCache *pricing.MemoryQuoteCache
	History     *storage.PriceHistoryRepository
	Budgets     []*ratelimit.BudgetedProvider

	Valuation *service.ValuationService
	Snapshots *service.SnapshotService
	Retention *service.RetentionService
}

// InitLogger configures the global logger from config and returns it
func InitLogger(cfg config.LoggingConfig) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Level), logging.ParseLogFormat(cfg.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Level,
		"format": cfg.Format,
	}).Info("Structured logging initialized")
	return logger
}

// New connects to the configured stores and builds the services. Redis and
// ClickHouse are only dialed when enabled.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	logger.Info("Connecting to databases...")
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Postgres = postgres

	var redisClient redis.Cmdable
	if cfg.Prices.CacheBackend == config.CacheBackendRedis || cfg.Prices.Metered() {
		rc, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rc
		redisClient = rc.Client()
	}

	var recorder pricing.QuoteRecorder
	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		a.ClickHouse = ch
		a.History = storage.NewPriceHistoryRepository(ch)
		recorder = a.History
	}
	logger.WithFields(map[string]interface{}{
		"redis":      a.Redis != nil,
		"clickhouse": a.ClickHouse != nil,
	}).Info("Database connections established")

	resolver, memCache, budgets, err := NewResolver(cfg.Prices, redisClient, recorder)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Resolver = resolver
	a.MemoryCache = memCache
	a.Budgets = budgets
	if memCache != nil {
		go memCache.Run(ctx, cacheSweepInterval)
	}
	logger.WithField("providers", resolver.Providers()).Info("Price resolver initialized")

	pool := postgres.Pool()
	a.Valuation = service.NewValuationService(storage.NewTransactionRepository(pool), resolver)
	a.Snapshots = service.NewSnapshotService(
		storage.NewClientRepository(pool),
		storage.NewWalletRepository(pool),
		storage.NewSnapshotRepository(pool),
		resolver,
		service.SnapshotOptions{
			Workers:   cfg.Snapshot.Workers,
			RunBudget: cfg.Snapshot.RunBudget,
		},
	)
	a.Retention = service.NewRetentionService(storage.NewSnapshotRepository(pool))

	return a, nil
}

// NewResolver builds the provider chain and the quote cache for cfg. The
// memory cache is returned when it is the active backend so callers can run
// its eviction loop. Providers with a daily credit budget are wrapped and
// returned as budgets.
func NewResolver(cfg config.PriceConfig, redisClient redis.Cmdable, recorder pricing.QuoteRecorder) (*pricing.Resolver, *pricing.MemoryQuoteCache, []*ratelimit.BudgetedProvider, error) {
	providers, err := adapter.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("price providers: %w", err)
	}

	var budgets []*ratelimit.BudgetedProvider
	for i, p := range providers {
		credits := dailyCredits(cfg, p.Name())
		if credits <= 0 {
			continue
		}
		if redisClient == nil {
			return nil, nil, nil, fmt.Errorf("credit budget for %s requires redis", p.Name())
		}
		budget, err := ratelimit.NewCreditBudget(&ratelimit.CreditBudgetConfig{
			Redis:           redisClient,
			Provider:        p.Name(),
			DailyCredits:    credits,
			ReservedPercent: cfg.ReservedCreditsPercent,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("credit budget for %s: %w", p.Name(), err)
		}
		bp := ratelimit.NewBudgetedProvider(p, budget, 1)
		providers[i] = bp
		budgets = append(budgets, bp)
	}

	var (
		cache    pricing.QuoteCache
		memCache *pricing.MemoryQuoteCache
	)
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		if redisClient == nil {
			return nil, nil, nil, fmt.Errorf("redis cache backend selected but no redis client")
		}
		cache = pricing.NewRedisQuoteCache(redisClient, cfg.CacheTTL)
	default:
		memCache = pricing.NewMemoryQuoteCache(cfg.CacheTTL)
		cache = memCache
	}

	resolver := pricing.NewResolver(providers, cache, pricing.Options{
		TTL:             cfg.CacheTTL,
		MaxConcurrency:  cfg.MaxConcurrency,
		ProviderTimeout: cfg.ProviderTimeout,
		RetryDelay:      cfg.RetryDelay,
		Recorder: recorder,
	})
	return resolver, memCache, budgets, nil
}

func dailyCredits(cfg config.PriceConfig, provider string) int {
	switch provider {
	case adapter.ProviderCoinGecko:
		return cfg.CoinGecko.DailyCredits
	case adapter.ProviderMobula:
		return cfg.Mobula.DailyCredits
	case adapter.ProviderCoinMarketCap:
		return cfg.CoinMarketCap.DailyCredits
	default:
		return 0
	}
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		_ = a.ClickHouse.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
