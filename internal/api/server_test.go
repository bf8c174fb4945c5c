package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/pricing"
	"github.com/portfolio-valuation/internal/ratelimit"
	"github.com/portfolio-valuation/internal/service"
)

// Mock services for testing

type mockValuationService struct {
	valuateFunc func(ctx context.Context, clientID string) (*service.Valuation, error)
}

func (m *mockValuationService) Valuate(ctx context.Context, clientID string) (*service.Valuation, error) {
	if m.valuateFunc != nil {
		return m.valuateFunc(ctx, clientID)
	}
	return &service.Valuation{
		ClientID:  clientID,
		Positions: []models.AssetPosition{{Symbol: "BTC", Quantity: decimal.NewFromInt(1), WeightedAvgCost: decimal.NewFromInt(30000)}},
		Metrics: models.PortfolioMetrics{
			InitialValue:  decimal.NewFromInt(30000),
			CurrentValue:  decimal.NewFromInt(60000),
			ProfitLoss:    decimal.NewFromInt(30000),
			ProfitLossPct: 100,
		},
		Missing:  []string{},
		Warnings: []models.DataQualityWarning{},
	}, nil
}

type mockSnapshotService struct {
	mu       sync.Mutex
	runs     []time.Time
	priority []ratelimit.Priority
	ranges   [][2]time.Time
	runDelay time.Duration
	runErr   error
	latest   *models.DailySnapshot
}

func (m *mockSnapshotService) CaptureDailySnapshots(ctx context.Context, asOf time.Time) (*models.RunReport, error) {
	if m.runDelay > 0 {
		time.Sleep(m.runDelay)
	}
	m.mu.Lock()
	m.runs = append(m.runs, asOf)
	m.priority = append(m.priority, ratelimit.PriorityFrom(ctx))
	m.mu.Unlock()
	if m.runErr != nil {
		return nil, m.runErr
	}
	report := models.NewRunReport(models.SnapshotDate(asOf), time.Now())
	report.Succeeded = append(report.Succeeded, "c1")
	return report, nil
}

func (m *mockSnapshotService) ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error) {
	m.mu.Lock()
	m.ranges = append(m.ranges, [2]time.Time{from, to})
	m.mu.Unlock()
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return []*models.DailySnapshot{{ID: "s1", ClientID: clientID, Date: from, TotalValueUSD: decimal.NewFromInt(10)}}, nil
}

func (m *mockSnapshotService) LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error) {
	if m.latest == nil {
		return nil, apperrors.NewNotFoundError("snapshot", clientID)
	}
	return m.latest, nil
}

type mockRetentionService struct {
	days []int
	err  error
}

func (m *mockRetentionService) CleanupOlderThan(ctx context.Context, days int) (*models.RetentionReport, error) {
	m.days = append(m.days, days)
	if m.err != nil {
		return nil, m.err
	}
	if days <= 0 {
		return &models.RetentionReport{RetentionDays: days, Skipped: true}, nil
	}
	return &models.RetentionReport{
		RetentionDays: days,
		Cutoff:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Deleted:       7,
	}, nil
}

type mockPriceService struct {
	prices map[string]string
	calls  [][]string
}

func (m *mockPriceService) Resolve(ctx context.Context, symbols []string) map[string]models.PriceQuote {
	m.calls = append(m.calls, symbols)
	out := make(map[string]models.PriceQuote)
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = models.PriceQuote{Symbol: s, USDPrice: decimal.RequireFromString(p), SourceProvider: "mock", FetchedAt: time.Now()}
		}
	}
	return out
}

func (m *mockPriceService) GetStats() pricing.Stats {
	return pricing.Stats{CacheHits: 3, CacheMisses: 1, HitRate: 0.75}
}

type mockHistory struct {
	from, to time.Time
}

func (m *mockHistory) History(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceQuote, error) {
	m.from, m.to = from, to
	return []models.PriceQuote{{Symbol: symbol, USDPrice: decimal.NewFromInt(1)}}, nil
}

type testServer struct {
	server    *Server
	snapshots *mockSnapshotService
	retention *mockRetentionService
	prices    *mockPriceService
	history   *mockHistory
}

func newTestServer(rps int) *testServer {
	ts := &testServer{
		snapshots: &mockSnapshotService{},
		retention: &mockRetentionService{},
		prices:    &mockPriceService{prices: map[string]string{"BTC": "60000", "ETH": "3000"}},
		history:   &mockHistory{},
	}
	ts.server = NewServer(&ServerConfig{
		Host:              "localhost",
		Port:              "0",
		RequestsPerSecond: rps,
		Burst:             2,
		RetentionDays:     90,
	}, Services{
		Valuation: &mockValuationService{},
		Snapshots: ts.snapshots,
		Retention: ts.retention,
		Prices:    ts.prices,
		History:   ts.history,
	}, logging.NewLogger(logging.LevelError, logging.FormatJSON))
	ts.server.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(0)
	rec := ts.do(t, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetValuation(t *testing.T) {
	ts := newTestServer(0)
	rec := ts.do(t, http.MethodGet, "/api/clients/c1/valuation")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "c1", body["clientId"])
	assert.Equal(t, "+100.00%", body["profitLoss"])
	assert.Len(t, body["positions"], 1)
}

func TestGetValuation_ErrorMapping(t *testing.T) {
	ts := newTestServer(0)
	ts.server.services.Valuation = &mockValuationService{valuateFunc: func(ctx context.Context, clientID string) (*service.Valuation, error) {
		return nil, errors.New("connection refused")
	}}

	rec := ts.do(t, http.MethodGet, "/api/clients/c1/valuation")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, apperrors.CodeInternalError, errBody["code"])
	assert.NotContains(t, errBody["message"], "connection refused")
}

func TestListSnapshots(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodGet, "/api/clients/c1/snapshots?from=2026-03-01&to=2026-03-05")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["snapshots"], 1)
	assert.True(t, ts.snapshots.ranges[0][0].Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	rec = ts.do(t, http.MethodGet, "/api/clients/c1/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "2026-02-08", body["from"])
	assert.Equal(t, "2026-03-10", body["to"])

	rec = ts.do(t, http.MethodGet, "/api/clients/c1/snapshots?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/clients/c1/snapshots?from=2026-03-05&to=2026-03-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestSnapshot(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodGet, "/api/clients/c1/snapshots/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.snapshots.latest = &models.DailySnapshot{ID: "s9", ClientID: "c1"}
	rec = ts.do(t, http.MethodGet, "/api/clients/c1/snapshots/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s9", decodeBody(t, rec)["id"])
}

func TestGetPrices(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodGet, "/api/prices?symbols=btc,ETH,,xyz,BTC")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["prices"], 2)
	assert.Equal(t, []interface{}{"XYZ"}, body["missing"])
	assert.Equal(t, []string{"BTC", "ETH", "XYZ"}, ts.prices.calls[0])

	rec = ts.do(t, http.MethodGet, "/api/prices")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceStatsAndHistory(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodGet, "/api/prices/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.75, decodeBody(t, rec)["hitRate"])

	rec = ts.do(t, http.MethodGet, "/api/prices/eth/history?from=2026-03-01&to=2026-03-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ETH", decodeBody(t, rec)["symbol"])
	assert.True(t, ts.history.to.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC).Add(-1)))

	ts.server.services.History = nil
	rec = ts.do(t, http.MethodGet, "/api/prices/eth/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunSnapshots(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodPost, "/api/admin/snapshots/run?date=2026-03-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"c1"}, decodeBody(t, rec)["succeeded"])
	assert.True(t, ts.snapshots.runs[0].Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, ratelimit.PriorityHigh, ts.snapshots.priority[0], "captures draw on reserved provider credits")

	rec = ts.do(t, http.MethodPost, "/api/admin/snapshots/run?date=03/01/2026")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/snapshots/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunSnapshots_RejectsOverlap(t *testing.T) {
	ts := newTestServer(0)
	ts.snapshots.runDelay = 100 * time.Millisecond

	done := make(chan int)
	go func() {
		done <- ts.do(t, http.MethodPost, "/api/admin/snapshots/run").Code
	}()
	time.Sleep(20 * time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/api/admin/snapshots/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRunRetention(t *testing.T) {
	ts := newTestServer(0)

	rec := ts.do(t, http.MethodPost, "/api/admin/retention/run")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["deleted"])
	assert.Equal(t, "2026-01-01", body["cutoff"])

	rec = ts.do(t, http.MethodPost, "/api/admin/retention/run?days=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["skipped"])
	assert.Equal(t, []int{90, 0}, ts.retention.days)

	rec = ts.do(t, http.MethodPost, "/api/admin/retention/run?days=ninety")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(1)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, ts.do(t, http.MethodGet, "/health").Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestCompressionAndCORS(t *testing.T) {
	ts := newTestServer(0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(gz).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	rec = ts.do(t, http.MethodGet, "/health")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
