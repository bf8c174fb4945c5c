package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/portfolio-valuation/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testConfig loads connection settings from the environment
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("Skipping test - config not loadable: %v", err)
	}
	return cfg
}

// newTestPostgres connects to the configured Postgres, applies migrations and
// skips the test when the database is unavailable
func newTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testConfig(t)
	db, err := NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	migrations, _ := filepath.Abs(filepath.Join("..", "..", "migrations", "postgres"))
	if err := RunMigrations(cfg.Database.Postgres.URL(), migrations); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return db
}

// newTestClickHouse connects to the configured ClickHouse, applies migrations
// and skips the test when the database is unavailable
func newTestClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testConfig(t)
	db, err := NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := RunClickHouseMigrations(testContext(t), db, filepath.Join("..", "..", "migrations", "clickhouse")); err != nil {
		t.Fatalf("RunClickHouseMigrations() error = %v", err)
	}
	return db
}
