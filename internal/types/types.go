// Package types provides common type definitions for the portfolio valuation engine.
package types

// ChainType represents the blockchain a wallet lives on
type ChainType string

const (
	// ChainEthereum represents Ethereum mainnet and EVM-compatible wallets
	ChainEthereum ChainType = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainType = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainType = "arbitrum"
	// ChainBase represents the Base network
	ChainBase ChainType = "base"
	// ChainSolana represents Solana mainnet
	ChainSolana ChainType = "solana"
)

// IsEVM reports whether wallets on this chain use 20-byte hex addresses
func (c ChainType) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainPolygon, ChainArbitrum, ChainBase:
		return true
	default:
		return false
	}
}

// IsValid reports whether the chain type is one the engine knows how to value
func (c ChainType) IsValid() bool {
	return c.IsEVM() || c == ChainSolana
}

// TransactionKind represents the type of a ledger entry
type TransactionKind string

const (
	// KindBuy increases a position and re-averages its cost
	KindBuy TransactionKind = "buy"
	// KindSell decreases a position without touching its average cost
	KindSell TransactionKind = "sell"
	// KindDeposit records cash moved into the portfolio
	KindDeposit TransactionKind = "deposit"
)

// IsValid reports whether the kind is a known ledger entry type
func (k TransactionKind) IsValid() bool {
	switch k {
	case KindBuy, KindSell, KindDeposit:
		return true
	default:
		return false
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
