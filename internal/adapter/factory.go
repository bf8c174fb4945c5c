package adapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/portfolio-valuation/internal/config"
)

// NewFromConfig builds the ordered provider chain named by cfg.Providers.
// Order is priority: the first entry is asked first.
func NewFromConfig(cfg config.PriceConfig) ([]PriceProvider, error) {
	client := &http.Client{Timeout: defaultHTTPTimeout}
	if cfg.ProviderTimeout > 0 {
		client.Timeout = cfg.ProviderTimeout
	}

	providers := make([]PriceProvider, 0, len(cfg.Providers))
	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, raw := range cfg.Providers {
		name := strings.TrimSpace(strings.ToLower(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		switch name {
		case ProviderCoinGecko:
			providers = append(providers, NewCoinGeckoProvider(httpOptions(cfg, cfg.CoinGecko, client), nil))
		case "coingecko-pro":
			opts := httpOptions(cfg, cfg.CoinGecko, client)
			if opts.BaseURL == "" {
				opts.BaseURL = CoinGeckoDefaultBaseURL("pro")
			}
			providers = append(providers, NewCoinGeckoProvider(opts, nil))
		case ProviderMobula:
			providers = append(providers, NewMobulaProvider(httpOptions(cfg, cfg.Mobula, client), nil))
		case ProviderCoinMarketCap, "cmc":
			providers = append(providers, NewCoinMarketCapProvider(httpOptions(cfg, cfg.CoinMarketCap, client)))
		default:
			return nil, fmt.Errorf("unknown price provider %q", raw)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no price providers configured")
	}
	return providers, nil
}

func httpOptions(cfg config.PriceConfig, p config.ProviderConfig, client *http.Client) HTTPOptions {
	return HTTPOptions{
		BaseURL:           p.BaseURL,
		APIKey:            p.APIKey,
		RequestsPerSecond: cfg.ProviderRPS,
		Client:            client,
	}
}
