package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 2048
)

// HTTPOptions configures the HTTP plumbing shared by all providers
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond paces outbound calls; <= 0 disables pacing
	RequestsPerSecond float64
	Client            *http.Client
}

// httpSource holds the HTTP client, base URL and pacing limiter of one provider
type httpSource struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPSource(name, defaultBaseURL string, opts HTTPOptions) httpSource {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return httpSource{
		name:    name,
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  client,
		limiter: limiter,
	}
}

// getJSON performs a GET and decodes the body into out, classifying failures
// into the provider error taxonomy.
func (s *httpSource) getJSON(ctx context.Context, path string, query url.Values, headers map[string]string, out interface{}) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.transportError(ctx, err)
		}
	}

	endpoint, err := url.Parse(s.baseURL + path)
	if err != nil {
		return apperrors.NewProviderError(s.name, 0, err)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return apperrors.NewProviderError(s.name, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderRateLimitError(s.name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return apperrors.NewProviderError(s.name, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewProviderMalformedError(s.name, err)
	}
	return nil
}

func (s *httpSource) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewProviderTimeoutError(s.name, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewProviderTimeoutError(s.name, err)
	}
	return apperrors.NewProviderError(s.name, 0, err)
}

// acceptPrice validates a decoded price at the adapter boundary. Zero and
// negative prices are logged and reported as not found.
func (s *httpSource) acceptPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"provider": s.name,
			"symbol":   symbol,
			"price":    price.String(),
		}).Warn("Provider returned non-positive price, ignoring")
		return decimal.Zero, apperrors.NewProviderNotFoundError(s.name, symbol)
	}
	return price, nil
}
