package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a normalized spot USD price for a token symbol
type PriceQuote struct {
	Symbol         string          `json:"symbol"`
	USDPrice       decimal.Decimal `json:"usdPrice"`
	SourceProvider string          `json:"sourceProvider"`
	FetchedAt      time.Time       `json:"fetchedAt"`
}

// IsFresh reports whether the quote is younger than ttl at the given instant
func (q PriceQuote) IsFresh(now time.Time, ttl time.Duration) bool {
	if q.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(q.FetchedAt) < ttl
}

// NormalizeSymbol upper-cases and trims a ticker so cache keys and result maps agree
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
