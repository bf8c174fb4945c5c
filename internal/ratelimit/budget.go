// Package ratelimit enforces daily credit budgets on metered price provider
// APIs. Budgets live in Redis so the API server and the snapshot worker draw
// from the same pool.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultReservedPercent = 50
	DefaultWindow          = 24 * time.Hour
	// keys outlive their window so usage stays readable just after rollover
	keyTTLSlack = time.Hour
)

// Redis key prefix for credit tracking.
const KeyPrefixCredits = "credits:"

// Priority selects which pool a call draws from.
type Priority int

const (
	// PriorityLow is for ad hoc lookups (shared pool).
	PriorityLow Priority = iota
	// PriorityHigh is for scheduled snapshot runs (reserved pool first).
	PriorityHigh
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so budgeted providers charge the matching pool.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority carried by ctx, PriorityLow if none.
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// CreditBudget tracks credits spent against one provider per UTC day. High
// priority calls may use the whole budget; low priority calls are confined to
// the part that is not reserved.
type CreditBudget struct {
	redis    redis.Cmdable
	provider string
	total    int
	reserved int
	window   time.Duration
	now      func() time.Time
}

// CreditBudgetConfig holds configuration for a provider budget.
type CreditBudgetConfig struct {
	// Redis is required.
	Redis    redis.Cmdable
	Provider string
	// DailyCredits is the total spendable per window.
	DailyCredits int
	// ReservedPercent of DailyCredits is unavailable to PriorityLow calls.
	ReservedPercent int
	// Window defaults to one UTC day.
	Window time.Duration
}

// Validate checks if the configuration is valid.
func (c *CreditBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.DailyCredits <= 0 {
		return fmt.Errorf("daily credits must be positive, got %d", c.DailyCredits)
	}
	if c.ReservedPercent < 0 || c.ReservedPercent > 100 {
		return fmt.Errorf("reserved percent must be within 0-100, got %d", c.ReservedPercent)
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewCreditBudget creates a budget with the given configuration.
func NewCreditBudget(cfg *CreditBudgetConfig) (*CreditBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}

	return &CreditBudget{
		redis:    cfg.Redis,
		provider: cfg.Provider,
		total:    cfg.DailyCredits,
		reserved: cfg.DailyCredits * cfg.ReservedPercent / 100,
		window:   window,
		now:      time.Now,
	}, nil
}

// windowStart aligns t to the window boundary in UTC.
func (b *CreditBudget) windowStart(t time.Time) time.Time {
	return t.UTC().Truncate(b.window)
}

func (b *CreditBudget) key(start time.Time) string {
	return fmt.Sprintf("%s%s:%d", KeyPrefixCredits, b.provider, start.Unix())
}

// consumeScript increments the window counter only if the caller's ceiling
// allows it. Returns {allowed, used}.
var consumeScript = redis.NewScript(`
	local used = tonumber(redis.call('GET', KEYS[1]) or '0')
	local cost = tonumber(ARGV[1])
	local ceiling = tonumber(ARGV[2])
	if used + cost > ceiling then
		return {0, used}
	end
	used = redis.call('INCRBY', KEYS[1], cost)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
	return {1, used}
`)

// TryConsume spends credits for one call. When the budget cannot cover it the
// returned duration is the time until the window rolls over. Redis failures
// deny the call.
func (b *CreditBudget) TryConsume(ctx context.Context, credits int, priority Priority) (bool, time.Duration, error) {
	if credits <= 0 {
		return true, 0, nil
	}

	start := b.windowStart(b.now())
	ceiling := b.total
	if priority != PriorityHigh {
		ceiling = b.total - b.reserved
	}

	ttl := int((b.window + keyTTLSlack).Seconds())
	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(start)}, credits, ceiling, ttl).Int64Slice()
	if err != nil {
		return false, b.resetsIn(start), fmt.Errorf("credit budget %s: %w", b.provider, err)
	}
	if result[0] != 1 {
		return false, b.resetsIn(start), nil
	}
	return true, 0, nil
}

func (b *CreditBudget) resetsIn(start time.Time) time.Duration {
	wait := start.Add(b.window).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// CreditUsage is a point-in-time view of one provider budget.
type CreditUsage struct {
	Provider    string    `json:"provider"`
	Used        int       `json:"used"`
	Total       int       `json:"total"`
	Reserved    int       `json:"reserved"`
	WindowStart time.Time `json:"windowStart"`
}

// Utilization returns used credits as a percentage of the total (0-100).
func (u CreditUsage) Utilization() float64 {
	if u.Total == 0 {
		return 100
	}
	return float64(u.Used) * 100 / float64(u.Total)
}

// Usage reads the current window counter; a missing key means nothing spent.
func (b *CreditBudget) Usage(ctx context.Context) (*CreditUsage, error) {
	start := b.windowStart(b.now())
	used, err := b.redis.Get(ctx, b.key(start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("credit usage %s: %w", b.provider, err)
	}
	return &CreditUsage{
		Provider:    b.provider,
		Used:        used,
		Total:       b.total,
		Reserved:    b.reserved,
		WindowStart: start,
	}, nil
}

// Provider returns the provider this budget meters.
func (b *CreditBudget) Provider() string {
	return b.provider
}
