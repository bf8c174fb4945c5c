package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-valuation/internal/errors"
)

const mobulaDefaultBaseURL = "https://api.mobula.io"

// MobulaProvider resolves prices through the Mobula multi-data endpoint
type MobulaProvider struct {
	httpSource
	assets SymbolMap
}

type mobulaMultiDataResponse struct {
	Data      map[string]mobulaAssetData `json:"data"`
	DataArray []mobulaAssetData          `json:"dataArray"`
}

type mobulaAssetData struct {
	Key    string           `json:"key"`
	Name   string           `json:"name"`
	Symbol string           `json:"symbol"`
	Price  *decimal.Decimal `json:"price"`
}

// NewMobulaProvider creates a Mobula adapter. Symbols missing from assets are
// queried by ticker.
func NewMobulaProvider(opts HTTPOptions, assets SymbolMap) *MobulaProvider {
	if assets == nil {
		assets = DefaultMobulaAssets
	}
	return &MobulaProvider{
		httpSource: newHTTPSource(ProviderMobula, mobulaDefaultBaseURL, opts),
		assets:     assets,
	}
}

// Name returns the provider name
func (p *MobulaProvider) Name() string {
	return ProviderMobula
}

// GetPrice fetches the USD price for symbol
func (p *MobulaProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	asset, ok := p.assets.Lookup(symbol)
	if !ok {
		asset = symbol
	}

	query := url.Values{}
	query.Set("assets", asset)

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = p.apiKey
	}

	var payload mobulaMultiDataResponse
	if err := p.getJSON(ctx, "/api/1/market/multi-data", query, headers, &payload); err != nil {
		return decimal.Zero, err
	}

	row, found := payload.find(asset, symbol)
	if !found {
		return decimal.Zero, apperrors.NewProviderNotFoundError(p.name, symbol)
	}
	if row.Price == nil {
		return decimal.Zero, apperrors.NewProviderMalformedError(p.name,
			fmt.Errorf("asset %q has no price field", asset))
	}

	return p.acceptPrice(ctx, symbol, *row.Price)
}

// find locates the row for asset in either response shape
func (r mobulaMultiDataResponse) find(asset, symbol string) (mobulaAssetData, bool) {
	for key, row := range r.Data {
		if strings.EqualFold(key, asset) || strings.EqualFold(key, symbol) {
			return row, true
		}
	}
	for _, row := range r.DataArray {
		if strings.EqualFold(row.Key, asset) || strings.EqualFold(row.Name, asset) || strings.EqualFold(row.Symbol, symbol) {
			return row, true
		}
	}
	return mobulaAssetData{}, false
}
