package ratelimit

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuation/internal/adapter"
	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
)

// BudgetedProvider charges a CreditBudget before every call to the wrapped
// provider. Calls the budget cannot cover fail without reaching the network.
type BudgetedProvider struct {
	underlying adapter.PriceProvider
	budget     *CreditBudget
	cost       int
}

var _ adapter.PriceProvider = (*BudgetedProvider)(nil)

// NewBudgetedProvider wraps p so that each GetPrice spends cost credits.
func NewBudgetedProvider(p adapter.PriceProvider, budget *CreditBudget, cost int) *BudgetedProvider {
	if cost <= 0 {
		cost = 1
	}
	return &BudgetedProvider{underlying: p, budget: budget, cost: cost}
}

// Name returns the wrapped provider's name.
func (p *BudgetedProvider) Name() string {
	return p.underlying.Name()
}

// GetPrice spends credits at the priority carried by ctx, then delegates.
func (p *BudgetedProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	priority := PriorityFrom(ctx)
	allowed, resetsIn, err := p.budget.TryConsume(ctx, p.cost, priority)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("provider", p.Name()).Warn("Credit budget unavailable, denying call")
	}
	if !allowed {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"provider":  p.Name(),
			"symbol":    symbol,
			"priority":  priority.String(),
			"resets_in": resetsIn.String(),
		}).Debug("Provider credit budget exhausted")
		return decimal.Zero, apperrors.NewProviderBudgetExhaustedError(p.Name(), resetsIn)
	}
	return p.underlying.GetPrice(ctx, symbol)
}

// Usage returns the current budget usage.
func (p *BudgetedProvider) Usage(ctx context.Context) (*CreditUsage, error) {
	return p.budget.Usage(ctx)
}
