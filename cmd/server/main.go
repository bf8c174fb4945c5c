// Package main provides the API server entry point for the portfolio valuation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-valuation/internal/api"
	"github.com/portfolio-valuation/internal/app"
	"github.com/portfolio-valuation/internal/config"
)

func main() {
	fmt.Println("Portfolio Valuation API Server")
	log.Println("Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	services := api.Services{
		Valuation: a.Valuation,
		Snapshots: a.Snapshots,
		Retention: a.Retention,
		Prices:    a.Resolver,
	}
	if a.History != nil {
		services.History = a.History
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Snapshot.RunBudget + time.Minute,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.Server.RequestsPerS,
		Burst:             cfg.Server.RequestsPerS * 2,
		RetentionDays:     cfg.Retention.Days,
	}
	server := api.NewServer(serverConfig, services, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
