package adapter

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-valuation/internal/errors"
)

const (
	coinGeckoPublicBaseURL = "https://api.coingecko.com/api/v3"
	coinGeckoProBaseURL    = "https://pro-api.coingecko.com/api/v3"
	coinGeckoVsCurrency    = "usd"
)

// CoinGeckoProvider resolves prices through the CoinGecko /simple/price endpoint
type CoinGeckoProvider struct {
	httpSource
	apiKeyHeader string
	ids          SymbolMap
}

// NewCoinGeckoProvider creates a CoinGecko adapter. ids maps tickers to
// CoinGecko coin ids; nil uses DefaultCoinGeckoIDs.
func NewCoinGeckoProvider(opts HTTPOptions, ids SymbolMap) *CoinGeckoProvider {
	src := newHTTPSource(ProviderCoinGecko, coinGeckoPublicBaseURL, opts)

	header := "x-cg-demo-api-key"
	if strings.Contains(src.baseURL, "pro-api.coingecko.com") {
		header = "x-cg-pro-api-key"
	}
	if ids == nil {
		ids = DefaultCoinGeckoIDs
	}

	return &CoinGeckoProvider{
		httpSource:   src,
		apiKeyHeader: header,
		ids:          ids,
	}
}

// Name returns the provider name
func (p *CoinGeckoProvider) Name() string {
	return ProviderCoinGecko
}

// GetPrice fetches the USD price for symbol
func (p *CoinGeckoProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	id, ok := p.ids.Lookup(symbol)
	if !ok {
		return decimal.Zero, apperrors.NewProviderNotFoundError(p.name, symbol)
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", coinGeckoVsCurrency)

	headers := map[string]string{}
	if p.apiKey != "" {
		headers[p.apiKeyHeader] = p.apiKey
	}

	var payload map[string]map[string]decimal.Decimal
	if err := p.getJSON(ctx, "/simple/price", query, headers, &payload); err != nil {
		return decimal.Zero, err
	}

	values, ok := payload[id]
	if !ok {
		return decimal.Zero, apperrors.NewProviderNotFoundError(p.name, symbol)
	}
	price, ok := values[coinGeckoVsCurrency]
	if !ok {
		return decimal.Zero, apperrors.NewProviderNotFoundError(p.name, symbol)
	}

	return p.acceptPrice(ctx, symbol, price)
}

// CoinGeckoDefaultBaseURL returns the API root for a plan ("pro" or public)
func CoinGeckoDefaultBaseURL(plan string) string {
	if strings.EqualFold(plan, "pro") {
		return coinGeckoProBaseURL
	}
	return coinGeckoPublicBaseURL
}
