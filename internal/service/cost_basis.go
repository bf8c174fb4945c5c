package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

// ComputePositions replays a ledger into weighted-average-cost positions.
//
// Transactions are grouped by symbol and applied in ascending timestamp order
// (ties keep input order). Buys re-average the cost; sells reduce quantity,
// clamping at zero, and leave the average cost untouched. Deposits carry no
// position. Over-sells and unusable entries are reported as warnings.
func ComputePositions(transactions []models.Transaction) (map[string]models.AssetPosition, []models.DataQualityWarning) {
	bySymbol := make(map[string][]models.Transaction)
	var warnings []models.DataQualityWarning

	for _, tx := range transactions {
		if tx.Kind == types.KindDeposit {
			continue
		}
		symbol := models.NormalizeSymbol(tx.Symbol)
		if !tx.Kind.IsValid() {
			warnings = append(warnings, models.DataQualityWarning{
				Symbol:        symbol,
				TransactionID: tx.ID,
				Message:       fmt.Sprintf("unknown transaction kind %q ignored", tx.Kind),
			})
			continue
		}
		if symbol == "" {
			warnings = append(warnings, models.DataQualityWarning{
				TransactionID: tx.ID,
				Message:       "transaction without symbol ignored",
			})
			continue
		}
		if tx.Quantity.IsNegative() || tx.UnitPrice.IsNegative() {
			warnings = append(warnings, models.DataQualityWarning{
				Symbol:        symbol,
				TransactionID: tx.ID,
				Message:       "negative quantity or unit price ignored",
			})
			continue
		}
		bySymbol[symbol] = append(bySymbol[symbol], tx)
	}

	positions := make(map[string]models.AssetPosition, len(bySymbol))
	for symbol, txs := range bySymbol {
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		})

		qty := decimal.Zero
		avgCost := decimal.Zero
		for _, tx := range txs {
			switch tx.Kind {
			case types.KindBuy:
				newQty := qty.Add(tx.Quantity)
				if newQty.IsZero() {
					avgCost = decimal.Zero
				} else {
					avgCost = qty.Mul(avgCost).Add(tx.Quantity.Mul(tx.UnitPrice)).Div(newQty)
				}
				qty = newQty
			case types.KindSell:
				if tx.Quantity.GreaterThan(qty) {
					warnings = append(warnings, models.DataQualityWarning{
						Symbol:        symbol,
						TransactionID: tx.ID,
						Message:       fmt.Sprintf("sell of %s exceeds held quantity %s, clamped to zero", tx.Quantity, qty),
					})
					qty = decimal.Zero
					continue
				}
				qty = qty.Sub(tx.Quantity)
			}
		}

		positions[symbol] = models.AssetPosition{
			Symbol:          symbol,
			Quantity:        qty,
			WeightedAvgCost: avgCost,
		}
	}

	return positions, warnings
}

// ApplyPrices sets the current price and value of every open position that
// has a quote. It returns the summed value of priced positions and the
// sorted symbols of open positions left unpriced.
func ApplyPrices(positions map[string]models.AssetPosition, quotes map[string]models.PriceQuote) (decimal.Decimal, []string) {
	total := decimal.Zero
	var missing []string

	for symbol, pos := range positions {
		if !pos.Quantity.IsPositive() {
			continue
		}
		quote, ok := quotes[symbol]
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		price := quote.USDPrice
		value := pos.Quantity.Mul(price)
		pos.CurrentPrice = &price
		pos.CurrentValue = &value
		positions[symbol] = pos
		total = total.Add(value)
	}

	sort.Strings(missing)
	return total, missing
}

// ComputeMetrics derives portfolio metrics from the ledger and the current
// total value. The initial value is the sum of buy totals; deposits are
// reported separately. The percentage is zero when nothing was bought.
func ComputeMetrics(transactions []models.Transaction, currentValueTotal decimal.Decimal, computedAt time.Time) models.PortfolioMetrics {
	initial := decimal.Zero
	deposited := decimal.Zero
	for i := range transactions {
		tx := &transactions[i]
		switch tx.Kind {
		case types.KindBuy:
			initial = initial.Add(tx.TotalValue())
		case types.KindDeposit:
			deposited = deposited.Add(tx.TotalValue())
		}
	}

	profitLoss := currentValueTotal.Sub(initial)

	var pct float64
	if initial.IsPositive() {
		pct = profitLoss.Div(initial).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	return models.PortfolioMetrics{
		InitialValue:   initial,
		DepositedValue: deposited,
		CurrentValue:   currentValueTotal,
		ProfitLoss:     profitLoss,
		ProfitLossPct:  models.SafePercent(pct),
		ComputedAt:     computedAt,
	}
}
