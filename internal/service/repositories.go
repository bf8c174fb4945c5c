package service

import (
	"context"
	"time"

	"github.com/portfolio-valuation/internal/models"
)

// ClientRepository enumerates the clients a capture run covers
type ClientRepository interface {
	ListClientIDs(ctx context.Context) ([]string, error)
}

// WalletRepository reads client wallets with their token holdings
type WalletRepository interface {
	GetWallets(ctx context.Context, clientID string) ([]models.Wallet, error)
}

// TransactionRepository reads a client's ledger
type TransactionRepository interface {
	GetTransactions(ctx context.Context, clientID string) ([]models.Transaction, error)
}

// SnapshotRepository persists daily snapshots.
// CreateSnapshot writes the snapshot with its wallet and token rows atomically
// and returns a DuplicateSnapshot error when (clientID, date) already exists.
// FindSnapshot and LatestSnapshot return nil without error when nothing matches.
type SnapshotRepository interface {
	FindSnapshot(ctx context.Context, clientID string, date time.Time) (*models.DailySnapshot, error)
	CreateSnapshot(ctx context.Context, snapshot *models.DailySnapshot) (string, error)
	ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error)
	LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error)
	// DeleteSnapshotsBefore removes snapshots dated before cutoff, keeping
	// each client's most recent snapshot, and returns the number removed.
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PriceSource resolves USD quotes keyed by normalized symbol. Symbols that
// cannot be priced are absent from the result.
type PriceSource interface {
	Resolve(ctx context.Context, symbols []string) map[string]models.PriceQuote
}
