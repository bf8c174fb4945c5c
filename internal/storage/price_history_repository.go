package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuation/internal/models"
)

// PriceHistoryRepository archives every freshly fetched quote in ClickHouse.
// The archive is append-only and never read on the valuation path.
type PriceHistoryRepository struct {
	db *ClickHouseDB
}

// NewPriceHistoryRepository creates a new price history repository
func NewPriceHistoryRepository(db *ClickHouseDB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

// RecordQuotes appends quotes in a single batch
func (r *PriceHistoryRepository) RecordQuotes(ctx context.Context, quotes []models.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	batch, err := r.db.PrepareBatch(ctx, `
		INSERT INTO price_quotes (symbol, usd_price, source_provider, fetched_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare price batch: %w", err)
	}

	for _, q := range quotes {
		if err := batch.Append(q.Symbol, q.USDPrice, q.SourceProvider, q.FetchedAt.UTC()); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append quote %s: %w", q.Symbol, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send price batch: %w", err)
	}
	return nil
}

// History returns archived quotes for a symbol between from and to, oldest first
func (r *PriceHistoryRepository) History(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceQuote, error) {
	rows, err := r.db.Query(ctx, `
		SELECT symbol, usd_price, source_provider, fetched_at
		FROM price_quotes
		WHERE symbol = ? AND fetched_at >= ? AND fetched_at <= ?
		ORDER BY fetched_at ASC
	`, models.NormalizeSymbol(symbol), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	quotes := []models.PriceQuote{}
	for rows.Next() {
		var (
			q     models.PriceQuote
			price decimal.Decimal
		)
		if err := rows.Scan(&q.Symbol, &price, &q.SourceProvider, &q.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price quote: %w", err)
		}
		q.USDPrice = price
		q.FetchedAt = q.FetchedAt.UTC()
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history: %w", err)
	}
	return quotes, nil
}
