package adapter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-valuation/internal/errors"
)

const coinMarketCapDefaultBaseURL = "https://pro-api.coinmarketcap.com"

// CoinMarketCapProvider resolves prices through the CoinMarketCap quotes endpoint
type CoinMarketCapProvider struct {
	httpSource
}

type cmcQuotesResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]cmcAsset `json:"data"`
}

type cmcAsset struct {
	Symbol string `json:"symbol"`
	Quote  map[string]struct {
		Price *decimal.Decimal `json:"price"`
	} `json:"quote"`
}

// NewCoinMarketCapProvider creates a CoinMarketCap adapter
func NewCoinMarketCapProvider(opts HTTPOptions) *CoinMarketCapProvider {
	return &CoinMarketCapProvider{
		httpSource: newHTTPSource(ProviderCoinMarketCap, coinMarketCapDefaultBaseURL, opts),
	}
}

// Name returns the provider name
func (p *CoinMarketCapProvider) Name() string {
	return ProviderCoinMarketCap
}

// GetPrice fetches the USD price for symbol
func (p *CoinMarketCapProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("convert", "USD")

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["X-CMC_PRO_API_KEY"] = p.apiKey
	}

	var payload cmcQuotesResponse
	if err := p.getJSON(ctx, "/v1/cryptocurrency/quotes/latest", query, headers, &payload); err != nil {
		return decimal.Zero, err
	}
	if payload.Status.ErrorCode != 0 {
		return decimal.Zero, apperrors.NewProviderError(p.name, 0,
			fmt.Errorf("error %d: %s", payload.Status.ErrorCode, payload.Status.ErrorMessage))
	}

	asset, ok := payload.Data[symbol]
	if !ok {
		return decimal.Zero, apperrors.NewProviderNotFoundError(p.name, symbol)
	}
	usd, ok := asset.Quote["USD"]
	if !ok || usd.Price == nil {
		return decimal.Zero, apperrors.NewProviderMalformedError(p.name,
			fmt.Errorf("symbol %q has no USD quote", symbol))
	}

	return p.acceptPrice(ctx, symbol, *usd.Price)
}
