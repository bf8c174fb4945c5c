package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/ratelimit"
)

// handleRunSnapshots handles POST /api/admin/snapshots/run?date=YYYY-MM-DD
func (s *Server) handleRunSnapshots(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r, "date", s.now())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if !s.runInProgress.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, ErrCodeConflict, "A snapshot run is already in progress", nil)
		return
	}
	defer s.runInProgress.Store(false)

	// a dropped connection must not abandon clients mid-run
	ctx := ratelimit.WithPriority(context.WithoutCancel(r.Context()), ratelimit.PriorityHigh)
	report, err := s.services.Snapshots.CaptureDailySnapshots(ctx, asOf)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleRunRetention handles POST /api/admin/retention/run?days=N
func (s *Server) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	days := s.config.RetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be an integer", nil)
			return
		}
		days = parsed
	}

	report, err := s.services.Retention.CleanupOlderThan(r.Context(), days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		*models.RetentionReport
		Cutoff string `json:"cutoff,omitempty"`
	}{
		RetentionReport: report,
		Cutoff:          formatCutoff(report),
	})
}

func formatCutoff(report *models.RetentionReport) string {
	if report.Cutoff.IsZero() {
		return ""
	}
	return report.Cutoff.Format("2006-01-02")
}
