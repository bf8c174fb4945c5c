package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

// SnapshotOptions configures a capture run
type SnapshotOptions struct {
	// Workers is the number of clients processed concurrently
	Workers int
	// RunBudget stops dispatching new clients once elapsed; 0 means no budget
	RunBudget time.Duration
}

// SnapshotService captures one immutable valuation per client per UTC day
type SnapshotService struct {
	clients   ClientRepository
	wallets   WalletRepository
	snapshots SnapshotRepository
	prices    PriceSource
	opts      SnapshotOptions
	now       func() time.Time
	newID     func() string
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	clients ClientRepository,
	wallets WalletRepository,
	snapshots SnapshotRepository,
	prices PriceSource,
	opts SnapshotOptions,
) *SnapshotService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &SnapshotService{
		clients:   clients,
		wallets:   wallets,
		snapshots: snapshots,
		prices:    prices,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type clientOutcome int

const (
	outcomeCaptured clientOutcome = iota
	outcomeSkipped
	outcomeFailed
)

type clientResult struct {
	outcome clientOutcome
	partial bool
	err     error
}

// CaptureDailySnapshots snapshots every client for the UTC day of asOf.
//
// Clients are independent: a failure is recorded in the report and the run
// moves on. Clients that already have a snapshot for the day are skipped.
// When the run budget expires, clients not yet started are reported failed
// with RUN_TIMEOUT while started clients finish. Only failing to enumerate
// clients fails the run itself.
func (s *SnapshotService) CaptureDailySnapshots(ctx context.Context, asOf time.Time) (*models.RunReport, error) {
	date := models.SnapshotDate(asOf)
	report := models.NewRunReport(date, s.now().UTC())
	logger := logging.FromContext(ctx).WithField("date", date.Format(time.DateOnly))

	clientIDs, err := s.clients.ListClientIDs(ctx)
	if err != nil {
		logger.WithError(err).Error("Snapshot run aborted, cannot enumerate clients")
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"clients": len(clientIDs),
		"workers": s.opts.Workers,
	}).Info("Starting daily snapshot capture")

	dispatchCtx := ctx
	if s.opts.RunBudget > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.opts.RunBudget)
		defer cancel()
	}

	results := make([]clientResult, len(clientIDs))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for i, clientID := range clientIDs {
		i, clientID := i, clientID
		g.Go(func() error {
			if err := dispatchCtx.Err(); err != nil {
				results[i] = clientResult{outcome: outcomeFailed, err: apperrors.NewRunTimeoutError(clientID, err)}
				return nil
			}
			results[i] = s.runClient(ctx, clientID, date)
			return nil
		})
	}
	_ = g.Wait()

	for i, clientID := range clientIDs {
		res := results[i]
		switch res.outcome {
		case outcomeCaptured:
			report.Succeeded = append(report.Succeeded, clientID)
			if res.partial {
				report.Partial = append(report.Partial, clientID)
			}
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, clientID)
		default:
			catErr := apperrors.Categorize(res.err)
			report.Failed = append(report.Failed, models.ClientFailure{
				ClientID: clientID,
				Code:     catErr.Code,
				Error:    res.err.Error(),
			})
		}
	}
	report.FinishedAt = s.now().UTC()

	entry := logger.WithFields(map[string]interface{}{
		"succeeded": len(report.Succeeded),
		"skipped":   len(report.Skipped),
		"partial":   len(report.Partial),
		"failed":    len(report.Failed),
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	})
	if len(report.Failed) > 0 {
		entry.Warn("Daily snapshot capture finished with failures")
	} else {
		entry.Info("Daily snapshot capture finished")
	}

	return report, nil
}

// runClient isolates one client, turning panics into failures
func (s *SnapshotService) runClient(ctx context.Context, clientID string, date time.Time) (res clientResult) {
	logger := logging.FromContext(ctx).WithField("clientId", clientID)

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.NewClientProcessingError(clientID, fmt.Errorf("panic: %v", r))
			logger.WithError(err).Error("Snapshot capture panicked")
			res = clientResult{outcome: outcomeFailed, err: err}
		}
	}()

	outcome, partial, err := s.captureClient(ctx, clientID, date)
	if err != nil {
		logger.WithError(err).Error("Snapshot capture failed for client")
		return clientResult{outcome: outcomeFailed, err: err}
	}
	return clientResult{outcome: outcome, partial: partial}
}

func (s *SnapshotService) captureClient(ctx context.Context, clientID string, date time.Time) (clientOutcome, bool, error) {
	logger := logging.FromContext(ctx).WithField("clientId", clientID)

	existing, err := s.snapshots.FindSnapshot(ctx, clientID, date)
	if err != nil {
		return outcomeFailed, false, asPersistenceError("find snapshot", err)
	}
	if existing != nil {
		logger.Debug("Snapshot already exists, skipping")
		return outcomeSkipped, false, nil
	}

	wallets, err := s.wallets.GetWallets(ctx, clientID)
	if err != nil {
		return outcomeFailed, false, apperrors.NewClientProcessingError(clientID, fmt.Errorf("load wallets: %w", err))
	}
	if err := validateWallets(wallets); err != nil {
		return outcomeFailed, false, apperrors.NewClientProcessingError(clientID, err)
	}

	quotes := s.prices.Resolve(ctx, pricedSymbols(wallets))
	snapshot := buildSnapshot(clientID, date, wallets, quotes)
	snapshot.ID = s.newID()
	snapshot.CreatedAt = s.now().UTC()

	if snapshot.Partial {
		logger.WithField("symbols", snapshot.MissingSymbols).Warn("Snapshot is partial, prices unavailable")
	}

	if _, err := s.snapshots.CreateSnapshot(ctx, snapshot); err != nil {
		if apperrors.IsDuplicateSnapshot(err) {
			logger.Debug("Snapshot written concurrently, skipping")
			return outcomeSkipped, false, nil
		}
		return outcomeFailed, false, asPersistenceError("create snapshot", err)
	}

	logger.WithFields(map[string]interface{}{
		"snapshotId": snapshot.ID,
		"totalUsd":   snapshot.TotalValueUSD.StringFixed(2),
		"wallets":    len(snapshot.WalletSnapshots),
	}).Info("Snapshot captured")
	return outcomeCaptured, snapshot.Partial, nil
}

func asPersistenceError(op string, err error) error {
	if apperrors.Categorize(err).Category == apperrors.CategoryDatabase {
		return err
	}
	return apperrors.NewPersistenceError(op, err)
}

// validateWallets rejects wallet data that cannot be valued
func validateWallets(wallets []models.Wallet) error {
	for _, w := range wallets {
		if !w.ChainType.IsValid() {
			return fmt.Errorf("wallet %s: unsupported chain %q", w.ID, w.ChainType)
		}
		if err := types.ValidateAddress(w.ChainType, w.Address); err != nil {
			return fmt.Errorf("wallet %s: %w", w.ID, err)
		}
		for _, h := range w.Holdings {
			if strings.TrimSpace(h.Symbol) == "" {
				return fmt.Errorf("wallet %s: holding without symbol", w.ID)
			}
			if h.Balance.IsNegative() {
				return fmt.Errorf("wallet %s: negative balance for %s", w.ID, h.Symbol)
			}
		}
	}
	return nil
}

// pricedSymbols returns the distinct symbols with a non-zero balance
func pricedSymbols(wallets []models.Wallet) []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, w := range wallets {
		for _, h := range w.Holdings {
			if h.Balance.IsZero() {
				continue
			}
			symbol := models.NormalizeSymbol(h.Symbol)
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// buildSnapshot values every holding. A missing price contributes zero and
// marks the snapshot partial; zero balances are worth zero and never missing.
func buildSnapshot(clientID string, date time.Time, wallets []models.Wallet, quotes map[string]models.PriceQuote) *models.DailySnapshot {
	snapshot := &models.DailySnapshot{
		ClientID:        clientID,
		Date:            date,
		TotalValueUSD:   decimal.Zero,
		WalletSnapshots: make([]models.WalletSnapshot, 0, len(wallets)),
	}
	missing := make(map[string]struct{})

	for _, w := range wallets {
		ws := models.WalletSnapshot{
			WalletID:       w.ID,
			ValueUSD:       decimal.Zero,
			TokenSnapshots: make([]models.TokenSnapshot, 0, len(w.Holdings)),
		}
		for _, h := range w.Holdings {
			symbol := models.NormalizeSymbol(h.Symbol)
			ts := models.TokenSnapshot{
				Symbol:   symbol,
				Balance:  h.Balance,
				ValueUSD: decimal.Zero,
			}
			if !h.Balance.IsZero() {
				if quote, ok := quotes[symbol]; ok {
					ts.ValueUSD = h.Balance.Mul(quote.USDPrice)
				} else {
					ts.PriceMissing = true
					missing[symbol] = struct{}{}
				}
			}
			ws.ValueUSD = ws.ValueUSD.Add(ts.ValueUSD)
			ws.TokenSnapshots = append(ws.TokenSnapshots, ts)
		}
		snapshot.TotalValueUSD = snapshot.TotalValueUSD.Add(ws.ValueUSD)
		snapshot.WalletSnapshots = append(snapshot.WalletSnapshots, ws)
	}

	if len(missing) > 0 {
		snapshot.Partial = true
		for symbol := range missing {
			snapshot.MissingSymbols = append(snapshot.MissingSymbols, symbol)
		}
		sort.Strings(snapshot.MissingSymbols)
	}
	return snapshot
}

// ListSnapshots returns a client's snapshots between from and to (inclusive, by day)
func (s *SnapshotService) ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, apperrors.NewInvalidParameterError("clientId", "must not be empty")
	}
	from, to = models.SnapshotDate(from), models.SnapshotDate(to)
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}

	snapshots, err := s.snapshots.ListSnapshots(ctx, clientID, from, to)
	if err != nil {
		return nil, asPersistenceError("list snapshots", err)
	}
	return snapshots, nil
}

// LatestSnapshot returns the most recent snapshot of a client
func (s *SnapshotService) LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error) {
	snapshot, err := s.snapshots.LatestSnapshot(ctx, clientID)
	if err != nil {
		return nil, asPersistenceError("latest snapshot", err)
	}
	if snapshot == nil {
		return nil, apperrors.NewNotFoundError("snapshot", clientID)
	}
	return snapshot, nil
}
