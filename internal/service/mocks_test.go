package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

// Mock repositories for testing

const (
	evmAddress    = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	solanaAddress = "So11111111111111111111111111111111111111112"
)

type mockClientRepository struct {
	ids []string
	err error
}

func (m *mockClientRepository) ListClientIDs(ctx context.Context) ([]string, error) {
	return m.ids, m.err
}

type mockWalletRepository struct {
	wallets map[string][]models.Wallet
	errs    map[string]error
	panics  map[string]bool
	delay   map[string]time.Duration
}

func newMockWalletRepository() *mockWalletRepository {
	return &mockWalletRepository{
		wallets: make(map[string][]models.Wallet),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
		delay:   make(map[string]time.Duration),
	}
}

func (m *mockWalletRepository) GetWallets(ctx context.Context, clientID string) ([]models.Wallet, error) {
	if d := m.delay[clientID]; d > 0 {
		time.Sleep(d)
	}
	if m.panics[clientID] {
		panic("corrupt wallet row")
	}
	if err := m.errs[clientID]; err != nil {
		return nil, err
	}
	return m.wallets[clientID], nil
}

type mockTransactionRepository struct {
	transactions map[string][]models.Transaction
	err          error
}

func (m *mockTransactionRepository) GetTransactions(ctx context.Context, clientID string) ([]models.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.transactions[clientID], nil
}

type mockSnapshotRepository struct {
	mu        sync.Mutex
	snapshots map[string]*models.DailySnapshot
	// hideExisting makes FindSnapshot miss, so only CreateSnapshot sees duplicates
	hideExisting bool
	findErr      error
	createErrs   map[string]error
	deleteErr    error
	creates      int
}

func newMockSnapshotRepository() *mockSnapshotRepository {
	return &mockSnapshotRepository{
		snapshots:  make(map[string]*models.DailySnapshot),
		createErrs: make(map[string]error),
	}
}

func snapshotKey(clientID string, date time.Time) string {
	return clientID + "|" + date.Format(time.DateOnly)
}

func (m *mockSnapshotRepository) FindSnapshot(ctx context.Context, clientID string, date time.Time) (*models.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.hideExisting {
		return nil, nil
	}
	return m.snapshots[snapshotKey(clientID, date)], nil
}

func (m *mockSnapshotRepository) CreateSnapshot(ctx context.Context, snapshot *models.DailySnapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if err := m.createErrs[snapshot.ClientID]; err != nil {
		return "", err
	}
	key := snapshotKey(snapshot.ClientID, snapshot.Date)
	if _, exists := m.snapshots[key]; exists {
		return "", apperrors.NewDuplicateSnapshotError(snapshot.ClientID, snapshot.Date.Format(time.DateOnly))
	}
	m.snapshots[key] = snapshot
	return snapshot.ID, nil
}

func (m *mockSnapshotRepository) ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DailySnapshot
	for _, s := range m.snapshots {
		if s.ClientID == clientID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockSnapshotRepository) LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.DailySnapshot
	for _, s := range m.snapshots {
		if s.ClientID == clientID && (latest == nil || s.Date.After(latest.Date)) {
			latest = s
		}
	}
	return latest, nil
}

func (m *mockSnapshotRepository) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}

	latest := make(map[string]time.Time)
	for _, s := range m.snapshots {
		if s.Date.After(latest[s.ClientID]) {
			latest[s.ClientID] = s.Date
		}
	}

	var deleted int64
	for key, s := range m.snapshots {
		if s.Date.Before(cutoff) && s.Date.Before(latest[s.ClientID]) {
			delete(m.snapshots, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockSnapshotRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func (m *mockSnapshotRepository) get(clientID string, date time.Time) *models.DailySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[snapshotKey(clientID, date)]
}

type mockPriceSource struct {
	mu     sync.Mutex
	prices map[string]string
	calls  [][]string
}

func (m *mockPriceSource) Resolve(ctx context.Context, symbols []string) map[string]models.PriceQuote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), symbols...))

	out := make(map[string]models.PriceQuote)
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = models.PriceQuote{
				Symbol:         s,
				USDPrice:       decimal.RequireFromString(p),
				SourceProvider: "mock",
				FetchedAt:      time.Now(),
			}
		}
	}
	return out
}

func (m *mockPriceSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func evmWallet(id, clientID string, holdings ...models.TokenHolding) models.Wallet {
	return models.Wallet{ID: id, ClientID: clientID, Address: evmAddress, ChainType: types.ChainEthereum, Holdings: holdings}
}

func holding(symbol, balance string) models.TokenHolding {
	return models.TokenHolding{Symbol: symbol, Balance: dec(balance)}
}
