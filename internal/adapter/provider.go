package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuation/internal/models"
)

// PriceProvider defines the interface for external spot price sources.
// Implementations return a positive USD price or a categorized error:
// provider not found, malformed payload, timeout, or HTTP status failure.
type PriceProvider interface {
	// Name returns the provider identifier recorded on quotes
	Name() string

	// GetPrice fetches the USD spot price for a ticker symbol
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Provider names
const (
	ProviderCoinGecko     = "coingecko"
	ProviderMobula        = "mobula"
	ProviderCoinMarketCap = "coinmarketcap"
)

// SymbolMap translates ticker symbols into a provider's own asset identifiers.
// Keys are upper-case tickers.
type SymbolMap map[string]string

// Lookup returns the provider id for symbol and whether it is known
func (m SymbolMap) Lookup(symbol string) (string, bool) {
	id, ok := m[NormalizeSymbol(symbol)]
	return id, ok
}

// With returns a copy of m extended (or overridden) by extra
func (m SymbolMap) With(extra map[string]string) SymbolMap {
	out := make(SymbolMap, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[NormalizeSymbol(k)] = v
	}
	return out
}

// NormalizeSymbol upper-cases and trims a ticker
func NormalizeSymbol(symbol string) string {
	return models.NormalizeSymbol(symbol)
}

// DefaultCoinGeckoIDs maps common tickers to CoinGecko coin ids
var DefaultCoinGeckoIDs = SymbolMap{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"WETH":  "weth",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
	"MATIC": "matic-network",
	"POL":   "polygon-ecosystem-token",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"BNB":   "binancecoin",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"AAVE":  "aave",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"XRP":   "ripple",
	"DOGE":  "dogecoin",
	"JUP":   "jupiter-exchange-solana",
	"BONK":  "bonk",
}

// DefaultMobulaAssets maps common tickers to Mobula asset names
var DefaultMobulaAssets = SymbolMap{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"WETH":  "Wrapped Ether",
	"SOL":   "Solana",
	"USDC":  "USDC",
	"USDT":  "Tether",
	"DAI":   "Dai",
	"MATIC": "Polygon",
	"ARB":   "Arbitrum",
	"OP":    "Optimism",
	"BNB":   "BNB",
	"AVAX":  "Avalanche",
	"LINK":  "Chainlink",
	"UNI":   "Uniswap",
	"AAVE":  "Aave",
}
