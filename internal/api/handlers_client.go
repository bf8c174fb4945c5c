package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-valuation/internal/models"
)

// defaultHistoryDays is the snapshot window when no from date is given
const defaultHistoryDays = 30

// handleGetValuation handles GET /api/clients/{id}/valuation
func (s *Server) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	valuation, err := s.services.Valuation.Valuate(r.Context(), clientID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clientId":      valuation.ClientID,
		"positions":     valuation.Positions,
		"metrics":       valuation.Metrics,
		"profitLoss":    models.FormatPercent(valuation.Metrics.ProfitLossPct),
		"partial":       valuation.Partial,
		"missingPrices": valuation.Missing,
		"warnings":      valuation.Warnings,
	})
}

// handleListSnapshots handles GET /api/clients/{id}/snapshots?from=&to=
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	to, err := parseDate(r, "to", models.SnapshotDate(s.now()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	from, err := parseDate(r, "from", to.AddDate(0, 0, -defaultHistoryDays))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	snapshots, err := s.services.Snapshots.ListSnapshots(r.Context(), clientID, from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clientId":  clientID,
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"snapshots": snapshots,
	})
}

// handleLatestSnapshot handles GET /api/clients/{id}/snapshots/latest
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.services.Snapshots.LatestSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}
