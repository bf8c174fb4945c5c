package models

import (
	"github.com/portfolio-valuation/internal/types"
	"github.com/shopspring/decimal"
)

// TokenHolding is a token balance held by a single wallet
type TokenHolding struct {
	Symbol  string          `json:"symbol" db:"symbol"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Wallet is a client-owned address and the tokens it holds
type Wallet struct {
	ID        string          `json:"id" db:"id"`
	ClientID  string          `json:"clientId" db:"client_id"`
	Address   string          `json:"address" db:"address"`
	ChainType types.ChainType `json:"chainType" db:"chain_type"`
	Holdings  []TokenHolding  `json:"holdings"`
}
