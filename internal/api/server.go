// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/pricing"
	"github.com/portfolio-valuation/internal/service"
)

// Service interfaces for dependency injection and testing

// ValuationServiceInterface computes on-demand valuations
type ValuationServiceInterface interface {
	Valuate(ctx context.Context, clientID string) (*service.Valuation, error)
}

// SnapshotServiceInterface captures and reads daily snapshots
type SnapshotServiceInterface interface {
	CaptureDailySnapshots(ctx context.Context, asOf time.Time) (*models.RunReport, error)
	ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error)
	LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error)
}

// RetentionServiceInterface sweeps old snapshots
type RetentionServiceInterface interface {
	CleanupOlderThan(ctx context.Context, days int) (*models.RetentionReport, error)
}

// PriceServiceInterface resolves spot prices
type PriceServiceInterface interface {
	Resolve(ctx context.Context, symbols []string) map[string]models.PriceQuote
	GetStats() pricing.Stats
}

// PriceHistoryInterface reads archived quotes
type PriceHistoryInterface interface {
	History(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceQuote, error)
}

// Services groups the dependencies of the server. History may be nil when
// the price archive is disabled.
type Services struct {
	Valuation ValuationServiceInterface
	Snapshots SnapshotServiceInterface
	Retention RetentionServiceInterface
	Prices    PriceServiceInterface
	History   PriceHistoryInterface
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
	// RetentionDays is used by the admin sweep when no days parameter is given
	RetentionDays int
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger

	// runInProgress rejects overlapping admin-triggered captures
	runInProgress atomic.Bool
	now           func() time.Time
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Client endpoints
	api.HandleFunc("/clients/{id}/valuation", s.handleGetValuation).Methods("GET")
	api.HandleFunc("/clients/{id}/snapshots", s.handleListSnapshots).Methods("GET")
	api.HandleFunc("/clients/{id}/snapshots/latest", s.handleLatestSnapshot).Methods("GET")

	// Price endpoints
	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/prices/stats", s.handlePriceStats).Methods("GET")
	api.HandleFunc("/prices/{symbol}/history", s.handlePriceHistory).Methods("GET")

	// Operational triggers
	api.HandleFunc("/admin/snapshots/run", s.handleRunSnapshots).Methods("POST")
	api.HandleFunc("/admin/retention/run", s.handleRunRetention).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-valuation",
	})
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
