package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AssetPosition is the derived holding of one symbol after replaying the ledger.
// CurrentValue is nil when no price could be resolved for the symbol.
type AssetPosition struct {
	Symbol          string           `json:"symbol"`
	Quantity        decimal.Decimal  `json:"quantity"`
	WeightedAvgCost decimal.Decimal  `json:"weightedAvgCost"`
	CurrentPrice    *decimal.Decimal `json:"currentPrice,omitempty"`
	CurrentValue    *decimal.Decimal `json:"currentValue,omitempty"`
}

// CostBasis is quantity * weighted average cost
func (p *AssetPosition) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.WeightedAvgCost)
}

// PortfolioMetrics summarizes a client's portfolio performance
type PortfolioMetrics struct {
	InitialValue   decimal.Decimal `json:"initialValue"`
	DepositedValue decimal.Decimal `json:"depositedValue"`
	CurrentValue   decimal.Decimal `json:"currentValue"`
	ProfitLoss     decimal.Decimal `json:"profitLoss"`
	ProfitLossPct  float64         `json:"profitLossPct"`
	ComputedAt     time.Time       `json:"computedAt"`
}

// SafePercent clamps NaN and infinities to zero
func SafePercent(pct float64) float64 {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}

// FormatPercent renders a percentage with two decimals and an explicit sign
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%+.2f%%", SafePercent(pct))
}

// DataQualityWarning flags a ledger entry that was accepted but looks wrong
type DataQualityWarning struct {
	Symbol        string `json:"symbol"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message"`
}
