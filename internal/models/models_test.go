package models

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "truncates time of day",
			in:   time.Date(2026, 3, 14, 17, 45, 12, 999, time.UTC),
			want: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "converts to UTC before truncating",
			in:   time.Date(2026, 3, 15, 2, 0, 0, 0, loc),
			want: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "midnight is unchanged",
			in:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(SnapshotDate(tt.in)))
		})
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+12.35%", FormatPercent(12.3456))
	assert.Equal(t, "-3.10%", FormatPercent(-3.1))
	assert.Equal(t, "+0.00%", FormatPercent(math.NaN()))
	assert.Equal(t, "+0.00%", FormatPercent(math.Inf(1)))
	assert.Equal(t, "+0.00%", FormatPercent(math.Inf(-1)))
}

func TestPriceQuoteIsFresh(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := PriceQuote{Symbol: "BTC", USDPrice: decimal.NewFromInt(60000), FetchedAt: now.Add(-4 * time.Minute)}

	assert.True(t, q.IsFresh(now, 5*time.Minute))
	assert.False(t, q.IsFresh(now.Add(time.Minute), 5*time.Minute))
	assert.False(t, PriceQuote{}.IsFresh(now, 5*time.Minute))
}

func TestTransactionTotalValue(t *testing.T) {
	tx := Transaction{
		Quantity:  decimal.RequireFromString("0.5"),
		UnitPrice: decimal.NewFromInt(3000),
		Fee:       decimal.NewFromInt(2),
	}
	assert.True(t, decimal.NewFromInt(1500).Equal(tx.TotalValue()))
}
