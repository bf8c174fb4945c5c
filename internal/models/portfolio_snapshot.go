package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenSnapshot is the valued balance of one token inside a wallet snapshot
type TokenSnapshot struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	ValueUSD     decimal.Decimal `json:"valueUsd" db:"value_usd"`
	PriceMissing bool            `json:"priceMissing" db:"price_missing"`
}

// WalletSnapshot is the valued breakdown of one wallet
type WalletSnapshot struct {
	WalletID       string          `json:"walletId" db:"wallet_id"`
	ValueUSD       decimal.Decimal `json:"valueUsd" db:"value_usd"`
	TokenSnapshots []TokenSnapshot `json:"tokenSnapshots"`
}

// DailySnapshot is the immutable end-of-day valuation of a client portfolio.
// At most one exists per (ClientID, Date).
type DailySnapshot struct {
	ID              string           `json:"id" db:"id"`
	ClientID        string           `json:"clientId" db:"client_id"`
	Date            time.Time        `json:"date" db:"snapshot_date"`
	TotalValueUSD   decimal.Decimal  `json:"totalValueUsd" db:"total_value_usd"`
	Partial         bool             `json:"partial" db:"partial"`
	MissingSymbols  []string         `json:"missingSymbols,omitempty" db:"missing_symbols"`
	WalletSnapshots []WalletSnapshot `json:"walletSnapshots"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

// SnapshotDate truncates t to its UTC calendar day
func SnapshotDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
