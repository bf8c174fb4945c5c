package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"

	"github.com/portfolio-valuation/internal/config"
	"github.com/portfolio-valuation/internal/models"
)

func TestNewClickHouseDB(t *testing.T) {
	db := newTestClickHouse(t)

	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestClickHouseOptions(t *testing.T) {
	opts := clickHouseOptions(&config.ClickHouseConfig{
		Host:     "ch.internal",
		Port:     "9440",
		Database: "prices",
		User:     "archiver",
	})

	if len(opts.Addr) != 1 || opts.Addr[0] != "ch.internal:9440" {
		t.Errorf("Addr = %v, want [ch.internal:9440]", opts.Addr)
	}
	if opts.Auth.Database != "prices" || opts.Auth.Username != "archiver" {
		t.Errorf("Auth = %+v", opts.Auth)
	}
	if opts.Compression == nil || opts.Compression.Method != clickhouse.CompressionLZ4 {
		t.Errorf("Compression = %+v, want LZ4", opts.Compression)
	}
	if len(opts.ClientInfo.Products) != 1 || opts.ClientInfo.Products[0].Name != "portfolio-valuation" {
		t.Errorf("ClientInfo = %+v", opts.ClientInfo)
	}
}

func TestPriceHistoryRepository_RecordAndHistory(t *testing.T) {
	db := newTestClickHouse(t)
	ctx := testContext(t)
	repo := NewPriceHistoryRepository(db)

	symbol := "IT" + time.Now().Format("150405.000000")
	at := time.Now().UTC().Truncate(time.Millisecond)
	quotes := []models.PriceQuote{
		{Symbol: symbol, USDPrice: decimal.RequireFromString("1.5"), SourceProvider: "coingecko", FetchedAt: at.Add(-time.Minute)},
		{Symbol: symbol, USDPrice: decimal.RequireFromString("1.75"), SourceProvider: "mobula", FetchedAt: at},
	}
	if err := repo.RecordQuotes(ctx, quotes); err != nil {
		t.Fatalf("RecordQuotes() error = %v", err)
	}
	if err := repo.RecordQuotes(ctx, nil); err != nil {
		t.Errorf("RecordQuotes(nil) error = %v", err)
	}

	history, err := repo.History(ctx, symbol, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d quotes, want 2", len(history))
	}
	if !history[1].USDPrice.Equal(decimal.RequireFromString("1.75")) || history[1].SourceProvider != "mobula" {
		t.Errorf("latest quote = %+v", history[1])
	}
}

type recordingExecer struct {
	statements []string
	failOn     string
}

func (e *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	if e.failOn != "" && strings.Contains(query, e.failOn) {
		return errors.New("syntax error")
	}
	e.statements = append(e.statements, query)
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    x Int32
) ENGINE = Memory;

-- second
CREATE TABLE b (y String);
INSERT INTO b VALUES ('z')`

	got := splitSQLStatements(script)
	if len(got) != 3 {
		t.Fatalf("got %d statements, want 3: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "CREATE TABLE a") || strings.HasSuffix(got[0], ";") {
		t.Errorf("statement 1 = %q", got[0])
	}
	if got[2] != "INSERT INTO b VALUES ('z')" {
		t.Errorf("trailing statement = %q", got[2])
	}
	if len(splitSQLStatements("-- only a comment\n\n")) != 0 {
		t.Error("comment-only script must yield no statements")
	}
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"002_second.sql": "CREATE TABLE second (x Int8);",
		"001_first.sql":  "CREATE TABLE first (x Int8);\nCREATE TABLE first_b (x Int8);",
		"README.md":      "not a migration",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	exec := &recordingExecer{}
	applied, err := RunClickHouseMigrations(context.Background(), exec, dir)
	if err != nil {
		t.Fatalf("RunClickHouseMigrations() error = %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	want := []string{"CREATE TABLE first (x Int8)", "CREATE TABLE first_b (x Int8)", "CREATE TABLE second (x Int8)"}
	if strings.Join(exec.statements, "|") != strings.Join(want, "|") {
		t.Errorf("statements = %q, want %q", exec.statements, want)
	}

	failing := &recordingExecer{failOn: "second"}
	applied, err = RunClickHouseMigrations(context.Background(), failing, dir)
	if err == nil || applied != 1 {
		t.Errorf("applied = %d, err = %v; want 1 and an error", applied, err)
	}

	if _, err := RunClickHouseMigrations(context.Background(), exec, filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
