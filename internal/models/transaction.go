package models

import (
	"time"

	"github.com/portfolio-valuation/internal/types"
	"github.com/shopspring/decimal"
)

// Transaction is an append-only ledger entry for a client
type Transaction struct {
	ID        string                `json:"id" db:"id"`
	ClientID  string                `json:"clientId" db:"client_id"`
	Kind      types.TransactionKind `json:"kind" db:"kind"`
	Symbol    string                `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal       `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal       `json:"unitPrice" db:"unit_price"`
	Fee       decimal.Decimal       `json:"fee" db:"fee"`
	Timestamp time.Time             `json:"timestamp" db:"timestamp_utc"`
}

// TotalValue is the gross value of the entry (quantity * unit price).
// Fees are tracked separately and are not part of the cost basis.
func (t *Transaction) TotalValue() decimal.Decimal {
	return t.Quantity.Mul(t.UnitPrice)
}
