// Package config provides configuration management for the portfolio valuation engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Prices    PriceConfig
	Snapshot  SnapshotConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	Host         string
	RequestsPerS int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns a connection URL suitable for golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration for the price history archive
type ClickHouseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MigrationsPath string
}

// Metered reports whether any provider has a daily credit budget
func (c PriceConfig) Metered() bool {
	return c.CoinGecko.DailyCredits > 0 || c.Mobula.DailyCredits > 0 || c.CoinMarketCap.DailyCredits > 0
}

// RedisConfig holds Redis configuration for the shared price cache
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProviderConfig holds credentials for a single price provider
type ProviderConfig struct {
	BaseURL      string
	APIKey       string
	// DailyCredits caps calls per UTC day; 0 leaves the provider unmetered
	DailyCredits int
}

// Price cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// PriceConfig holds Price Resolver configuration
type PriceConfig struct {
	// Providers lists provider names in priority order
	Providers       []string
	CacheTTL        time.Duration
	CacheBackend    string // memory or redis
	MaxConcurrency  int
	ProviderTimeout time.Duration
	RetryDelay      time.Duration
	ProviderRPS     float64
	CoinGecko       ProviderConfig
	Mobula          ProviderConfig
	CoinMarketCap   ProviderConfig

	// ReservedCreditsPercent is the share of each daily budget held back for
	// scheduled snapshot runs
	ReservedCreditsPercent int
}

// SnapshotConfig holds Snapshot Capturer configuration
type SnapshotConfig struct {
	Workers   int
	RunBudget time.Duration
	Schedule  string
}

// RetentionConfig holds Retention Sweeper configuration
type RetentionConfig struct {
	Days     int
	Schedule string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerS: getEnvAsInt("SERVER_REQUESTS_PER_SECOND", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "portfolio"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Prices: PriceConfig{
			Providers:              getEnvAsList("PRICE_PROVIDERS", []string{"coingecko", "mobula"}),
			CacheTTL:               getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
			CacheBackend:           strings.ToLower(getEnv("PRICE_CACHE_BACKEND", CacheBackendMemory)),
			MaxConcurrency:         getEnvAsInt("PRICE_MAX_CONCURRENCY", 8),
			ProviderTimeout:        getEnvAsDuration("PRICE_PROVIDER_TIMEOUT", 5*time.Second),
			RetryDelay:             getEnvAsDuration("PRICE_RETRY_DELAY", 250*time.Millisecond),
			ProviderRPS:            getEnvAsFloat("PRICE_PROVIDER_RPS", 5),
			ReservedCreditsPercent: getEnvAsInt("PRICE_RESERVED_CREDITS_PERCENT", 50),
			CoinGecko: ProviderConfig{
				BaseURL:      getEnv("COINGECKO_BASE_URL", ""),
				APIKey:       getEnv("COINGECKO_API_KEY", ""),
				DailyCredits: getEnvAsInt("COINGECKO_DAILY_CREDITS", 0),
			},
			Mobula: ProviderConfig{
				BaseURL:      getEnv("MOBULA_BASE_URL", ""),
				APIKey:       getEnv("MOBULA_API_KEY", ""),
				DailyCredits: getEnvAsInt("MOBULA_DAILY_CREDITS", 0),
			},
			CoinMarketCap: ProviderConfig{
				BaseURL:      getEnv("CMC_BASE_URL", ""),
				APIKey:       getEnv("CMC_API_KEY", ""),
				DailyCredits: getEnvAsInt("CMC_DAILY_CREDITS", 0),
			},
		},
		Snapshot: SnapshotConfig{
			Workers:   getEnvAsInt("SNAPSHOT_WORKERS", 4),
			RunBudget: getEnvAsDuration("SNAPSHOT_RUN_BUDGET", 30*time.Minute),
			Schedule:  getEnv("SNAPSHOT_CRON", "0 5 0 * * *"),
		},
		Retention: RetentionConfig{
			Days:     getEnvAsInt("RETENTION_DAYS", 90),
			Schedule: getEnv("RETENTION_CRON", "0 0 3 * * 0"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if len(c.Prices.Providers) == 0 {
		return fmt.Errorf("PRICE_PROVIDERS must name at least one provider")
	}
	if c.Prices.CacheTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be positive, got %s", c.Prices.CacheTTL)
	}
	if c.Prices.MaxConcurrency <= 0 {
		return fmt.Errorf("PRICE_MAX_CONCURRENCY must be positive, got %d", c.Prices.MaxConcurrency)
	}
	if c.Prices.ProviderTimeout <= 0 {
		return fmt.Errorf("PRICE_PROVIDER_TIMEOUT must be positive, got %s", c.Prices.ProviderTimeout)
	}
	if c.Prices.CacheBackend != CacheBackendMemory && c.Prices.CacheBackend != CacheBackendRedis {
		return fmt.Errorf("PRICE_CACHE_BACKEND must be memory or redis, got %q", c.Prices.CacheBackend)
	}
	if c.Prices.ReservedCreditsPercent < 0 || c.Prices.ReservedCreditsPercent > 100 {
		return fmt.Errorf("PRICE_RESERVED_CREDITS_PERCENT must be within 0-100, got %d", c.Prices.ReservedCreditsPercent)
	}
	if c.Snapshot.Workers <= 0 {
		return fmt.Errorf("SNAPSHOT_WORKERS must be positive, got %d", c.Snapshot.Workers)
	}
	if c.Snapshot.RunBudget <= 0 {
		return fmt.Errorf("SNAPSHOT_RUN_BUDGET must be positive, got %s", c.Snapshot.RunBudget)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
