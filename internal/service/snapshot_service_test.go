package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

var runDay = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

type snapshotFixture struct {
	clients   *mockClientRepository
	wallets   *mockWalletRepository
	snapshots *mockSnapshotRepository
	prices    *mockPriceSource
	svc       *SnapshotService
}

func newSnapshotFixture(clientIDs ...string) *snapshotFixture {
	f := &snapshotFixture{
		clients:   &mockClientRepository{ids: clientIDs},
		wallets:   newMockWalletRepository(),
		snapshots: newMockSnapshotRepository(),
		prices:    &mockPriceSource{prices: map[string]string{"BTC": "60000", "ETH": "3000", "SOL": "150"}},
	}
	for _, id := range clientIDs {
		f.wallets.wallets[id] = []models.Wallet{
			evmWallet(id+"-w1", id, holding("eth", "2"), holding("BTC", "0.5")),
		}
	}
	f.svc = NewSnapshotService(f.clients, f.wallets, f.snapshots, f.prices, SnapshotOptions{Workers: 4})
	f.svc.now = func() time.Time { return runDay.Add(5 * time.Minute) }
	return f
}

func TestCaptureDailySnapshots_ValuesWalletsAndTokens(t *testing.T) {
	f := newSnapshotFixture("c1")
	f.wallets.wallets["c1"] = []models.Wallet{
		evmWallet("w1", "c1", holding("ETH", "2"), holding("BTC", "0.5")),
		{ID: "w2", ClientID: "c1", Address: solanaAddress, ChainType: types.ChainSolana, Holdings: []models.TokenHolding{holding("SOL", "10"), holding("ETH", "1")}},
	}

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("CaptureDailySnapshots() error = %v", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "c1" {
		t.Fatalf("succeeded = %v, want [c1]", report.Succeeded)
	}

	snap := f.snapshots.get("c1", runDay)
	if snap == nil {
		t.Fatal("expected snapshot for c1")
	}
	// w1: 2*3000 + 0.5*60000 = 36000; w2: 10*150 + 1*3000 = 4500
	if !snap.TotalValueUSD.Equal(dec("40500")) {
		t.Errorf("total = %s, want 40500", snap.TotalValueUSD)
	}
	if len(snap.WalletSnapshots) != 2 {
		t.Fatalf("wallet snapshots = %d, want 2", len(snap.WalletSnapshots))
	}
	if !snap.WalletSnapshots[0].ValueUSD.Equal(dec("36000")) || !snap.WalletSnapshots[1].ValueUSD.Equal(dec("4500")) {
		t.Errorf("wallet values = %s, %s", snap.WalletSnapshots[0].ValueUSD, snap.WalletSnapshots[1].ValueUSD)
	}
	if snap.WalletSnapshots[0].TokenSnapshots[0].Symbol != "ETH" {
		t.Errorf("token symbol = %q, want normalized ETH", snap.WalletSnapshots[0].TokenSnapshots[0].Symbol)
	}
	if snap.Partial {
		t.Error("snapshot should not be partial")
	}
	if snap.ID == "" || snap.CreatedAt.IsZero() {
		t.Error("snapshot id and createdAt must be set")
	}

	// distinct symbols are resolved in a single batch per client
	if f.prices.callCount() != 1 || len(f.prices.calls[0]) != 3 {
		t.Errorf("price calls = %v, want one batch of 3 symbols", f.prices.calls)
	}
}

func TestCaptureDailySnapshots_TruncatesToUTCDay(t *testing.T) {
	f := newSnapshotFixture("c1")
	zone := time.FixedZone("UTC+3", 3*60*60)
	asOf := time.Date(2026, 3, 6, 1, 30, 0, 0, zone) // 2026-03-05 22:30 UTC

	report, err := f.svc.CaptureDailySnapshots(context.Background(), asOf)
	if err != nil {
		t.Fatalf("CaptureDailySnapshots() error = %v", err)
	}
	if !report.Date.Equal(runDay) {
		t.Errorf("report date = %v, want %v", report.Date, runDay)
	}
	if f.snapshots.get("c1", runDay) == nil {
		t.Error("snapshot must be keyed by the UTC day")
	}
}

func TestCaptureDailySnapshots_Idempotent(t *testing.T) {
	f := newSnapshotFixture("c1", "c2", "c3")
	ctx := context.Background()

	first, err := f.svc.CaptureDailySnapshots(ctx, runDay)
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if len(first.Succeeded) != 3 {
		t.Fatalf("first run succeeded = %v, want 3 clients", first.Succeeded)
	}

	second, err := f.svc.CaptureDailySnapshots(ctx, runDay.Add(20*time.Hour))
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if len(second.Skipped) != 3 || len(second.Succeeded) != 0 || len(second.Failed) != 0 {
		t.Errorf("second run = %+v, want all skipped", second)
	}
	if f.snapshots.count() != 3 {
		t.Errorf("snapshots = %d, want 3", f.snapshots.count())
	}
	// skipped clients never reach the price providers
	if f.prices.callCount() != 3 {
		t.Errorf("price calls = %d, want 3", f.prices.callCount())
	}
}

func TestCaptureDailySnapshots_UniqueConstraintIsSkip(t *testing.T) {
	f := newSnapshotFixture("c1")
	ctx := context.Background()
	if _, err := f.svc.CaptureDailySnapshots(ctx, runDay); err != nil {
		t.Fatal(err)
	}
	f.snapshots.hideExisting = true

	report, err := f.svc.CaptureDailySnapshots(ctx, runDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Skipped) != 1 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want c1 skipped", report)
	}
	if f.snapshots.count() != 1 {
		t.Errorf("snapshots = %d, want 1", f.snapshots.count())
	}
}

func TestCaptureDailySnapshots_IsolatesClientFailures(t *testing.T) {
	f := newSnapshotFixture("c1", "c2", "c3")
	f.wallets.errs["c2"] = errors.New("connection reset")

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatalf("CaptureDailySnapshots() error = %v", err)
	}

	if len(report.Succeeded) != 2 || report.Succeeded[0] != "c1" || report.Succeeded[1] != "c3" {
		t.Errorf("succeeded = %v, want [c1 c3]", report.Succeeded)
	}
	if len(report.Failed) != 1 || report.Failed[0].ClientID != "c2" {
		t.Fatalf("failed = %v, want [c2]", report.Failed)
	}
	if report.Failed[0].Code != apperrors.CodeClientProcessing {
		t.Errorf("failure code = %s, want %s", report.Failed[0].Code, apperrors.CodeClientProcessing)
	}
	if f.snapshots.get("c1", runDay) == nil || f.snapshots.get("c3", runDay) == nil {
		t.Error("snapshots for c1 and c3 must exist")
	}
	if f.snapshots.get("c2", runDay) != nil {
		t.Error("no snapshot expected for c2")
	}
}

func TestCaptureDailySnapshots_RecoversPanics(t *testing.T) {
	f := newSnapshotFixture("c1", "c2")
	f.wallets.panics["c1"] = true

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatalf("CaptureDailySnapshots() error = %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].ClientID != "c1" {
		t.Errorf("failed = %v, want [c1]", report.Failed)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "c2" {
		t.Errorf("succeeded = %v, want [c2]", report.Succeeded)
	}
}

func TestCaptureDailySnapshots_MissingPriceIsPartial(t *testing.T) {
	f := newSnapshotFixture("c1")
	f.wallets.wallets["c1"] = []models.Wallet{
		evmWallet("w1", "c1", holding("ETH", "1"), holding("XYZ", "100"), holding("DUST", "0")),
	}

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Succeeded) != 1 || len(report.Partial) != 1 || report.Partial[0] != "c1" {
		t.Errorf("report = %+v, want c1 succeeded and partial", report)
	}

	snap := f.snapshots.get("c1", runDay)
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if !snap.Partial || len(snap.MissingSymbols) != 1 || snap.MissingSymbols[0] != "XYZ" {
		t.Errorf("partial=%v missing=%v, want XYZ missing", snap.Partial, snap.MissingSymbols)
	}
	if !snap.TotalValueUSD.Equal(dec("3000")) {
		t.Errorf("total = %s, want 3000", snap.TotalValueUSD)
	}
	tokens := snap.WalletSnapshots[0].TokenSnapshots
	if !tokens[1].PriceMissing || !tokens[1].ValueUSD.IsZero() {
		t.Errorf("XYZ token = %+v, want zero value flagged missing", tokens[1])
	}
	if tokens[2].PriceMissing {
		t.Error("zero-balance token must not be flagged as missing")
	}
}

func TestCaptureDailySnapshots_PersistenceFailure(t *testing.T) {
	f := newSnapshotFixture("c1", "c2")
	f.snapshots.createErrs["c1"] = errors.New("deadlock detected")

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Code != apperrors.CodePersistenceFailure {
		t.Errorf("failed = %v, want c1 with %s", report.Failed, apperrors.CodePersistenceFailure)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "c2" {
		t.Errorf("succeeded = %v, want [c2]", report.Succeeded)
	}
}

func TestCaptureDailySnapshots_InvalidWalletFailsClient(t *testing.T) {
	f := newSnapshotFixture("c1")
	f.wallets.wallets["c1"] = []models.Wallet{
		{ID: "w1", ClientID: "c1", Address: "0xnothex", ChainType: types.ChainEthereum},
	}

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Code != apperrors.CodeClientProcessing {
		t.Errorf("failed = %v, want c1 with %s", report.Failed, apperrors.CodeClientProcessing)
	}
	if f.prices.callCount() != 0 {
		t.Error("invalid wallets must fail before any price lookup")
	}
}

func TestCaptureDailySnapshots_RunBudgetAbandonsQueuedClients(t *testing.T) {
	f := newSnapshotFixture("c1", "c2", "c3")
	f.wallets.delay["c1"] = 80 * time.Millisecond
	f.svc.opts = SnapshotOptions{Workers: 1, RunBudget: 20 * time.Millisecond}

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Succeeded) != 1 || report.Succeeded[0] != "c1" {
		t.Errorf("succeeded = %v, want in-flight c1 to finish", report.Succeeded)
	}
	if len(report.Failed) != 2 {
		t.Fatalf("failed = %v, want c2 and c3", report.Failed)
	}
	for _, failure := range report.Failed {
		if failure.Code != apperrors.CodeRunTimeout {
			t.Errorf("failure %s code = %s, want %s", failure.ClientID, failure.Code, apperrors.CodeRunTimeout)
		}
	}
	if report.Total() != 3 {
		t.Errorf("report accounts for %d clients, want 3", report.Total())
	}
}

func TestCaptureDailySnapshots_CannotListClients(t *testing.T) {
	f := newSnapshotFixture()
	f.clients.err = fmt.Errorf("relation clients does not exist")

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err == nil {
		t.Fatal("expected run-level error")
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
}

func TestCaptureDailySnapshots_NoClients(t *testing.T) {
	f := newSnapshotFixture()

	report, err := f.svc.CaptureDailySnapshots(context.Background(), runDay)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 0 || report.FinishedAt.IsZero() {
		t.Errorf("report = %+v, want empty finished report", report)
	}
}

func TestListAndLatestSnapshots(t *testing.T) {
	f := newSnapshotFixture("c1")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.CaptureDailySnapshots(ctx, runDay.AddDate(0, 0, i)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := f.svc.ListSnapshots(ctx, "c1", runDay, runDay.AddDate(0, 0, 1).Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || !list[0].Date.Equal(runDay) {
		t.Errorf("list = %d snapshots, want 2 starting at %v", len(list), runDay)
	}

	latest, err := f.svc.LatestSnapshot(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Date.Equal(runDay.AddDate(0, 0, 2)) {
		t.Errorf("latest date = %v, want %v", latest.Date, runDay.AddDate(0, 0, 2))
	}

	if _, err := f.svc.ListSnapshots(ctx, "c1", runDay, runDay.AddDate(0, 0, -1)); !apperrors.HasCode(err, apperrors.CodeInvalidParameter) {
		t.Errorf("inverted range error = %v, want invalid parameter", err)
	}
	if _, err := f.svc.LatestSnapshot(ctx, "nobody"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Errorf("latest for unknown client error = %v, want not found", err)
	}
}
