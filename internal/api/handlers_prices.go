package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/portfolio-valuation/internal/models"
)

// maxSymbolsPerRequest bounds a single price lookup
const maxSymbolsPerRequest = 50

// handleGetPrices handles GET /api/prices?symbols=BTC,ETH
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	seen := make(map[string]struct{})
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		symbol := models.NormalizeSymbol(part)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}

	if len(symbols) == 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "symbols parameter is required", nil)
		return
	}
	if len(symbols) > maxSymbolsPerRequest {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "too many symbols", map[string]interface{}{
			"max": maxSymbolsPerRequest,
		})
		return
	}

	quotes := s.services.Prices.Resolve(r.Context(), symbols)

	missing := []string{}
	for _, symbol := range symbols {
		if _, ok := quotes[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	sort.Strings(missing)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prices":  quotes,
		"missing": missing,
	})
}

// handlePriceStats handles GET /api/prices/stats
func (s *Server) handlePriceStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Prices.GetStats())
}

// handlePriceHistory handles GET /api/prices/{symbol}/history?from=&to=
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.services.History == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Price history archive is disabled", nil)
		return
	}

	now := s.now().UTC()
	to, err := parseDate(r, "to", now)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	from, err := parseDate(r, "from", to.AddDate(0, 0, -1))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("to") != "" {
		// a given to date covers the whole day
		to = to.AddDate(0, 0, 1).Add(-1)
	}

	quotes, err := s.services.History.History(r.Context(), mux.Vars(r)["symbol"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": models.NormalizeSymbol(mux.Vars(r)["symbol"]),
		"quotes": quotes,
	})
}
