package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
)

// Valuation is the on-demand view of a client's ledger at current prices
type Valuation struct {
	ClientID  string                      `json:"clientId"`
	Positions []models.AssetPosition      `json:"positions"`
	Metrics   models.PortfolioMetrics     `json:"metrics"`
	Partial   bool                        `json:"partial"`
	Missing   []string                    `json:"missingPrices"`
	Warnings  []models.DataQualityWarning `json:"warnings"`
}

// ValuationService computes cost-basis positions and P&L on request.
// Nothing it computes is stored.
type ValuationService struct {
	transactions TransactionRepository
	prices       PriceSource
	now          func() time.Time
}

// NewValuationService creates a new valuation service
func NewValuationService(transactions TransactionRepository, prices PriceSource) *ValuationService {
	return &ValuationService{
		transactions: transactions,
		prices:       prices,
		now:          time.Now,
	}
}

// Valuate replays the client's ledger and prices the open positions
func (s *ValuationService) Valuate(ctx context.Context, clientID string) (*Valuation, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, apperrors.NewInvalidParameterError("clientId", "must not be empty")
	}
	logger := logging.FromContext(ctx).WithField("clientId", clientID)

	txs, err := s.transactions.GetTransactions(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	positions, warnings := ComputePositions(txs)
	for _, w := range warnings {
		logger.WithFields(map[string]interface{}{
			"symbol":        w.Symbol,
			"transactionId": w.TransactionID,
		}).Warn(w.Message)
	}

	open := make([]string, 0, len(positions))
	for symbol, pos := range positions {
		if pos.Quantity.IsPositive() {
			open = append(open, symbol)
		}
	}

	quotes := map[string]models.PriceQuote{}
	if len(open) > 0 {
		quotes = s.prices.Resolve(ctx, open)
	}
	total, missing := ApplyPrices(positions, quotes)
	if len(missing) > 0 {
		logger.WithField("symbols", missing).Warn("Valuation is partial, prices unavailable")
	}

	list := make([]models.AssetPosition, 0, len(positions))
	for _, pos := range positions {
		list = append(list, pos)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })

	if warnings == nil {
		warnings = []models.DataQualityWarning{}
	}
	if missing == nil {
		missing = []string{}
	}

	return &Valuation{
		ClientID:  clientID,
		Positions: list,
		Metrics:   ComputeMetrics(txs, total, s.now().UTC()),
		Partial:   len(missing) > 0,
		Missing:   missing,
		Warnings:  warnings,
	}, nil
}
