package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/portfolio-valuation/internal/errors"
	"github.com/portfolio-valuation/internal/models"
)

// SnapshotRepository persists daily snapshots with their wallet and token rows
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

const snapshotColumns = `id::text, client_id, snapshot_date, total_value_usd::text, partial, missing_symbols, created_at`

// CreateSnapshot writes the snapshot and all nested rows atomically.
// A snapshot for the same client and day yields a duplicate error and
// leaves the stored one untouched.
func (r *SnapshotRepository) CreateSnapshot(ctx context.Context, snapshot *models.DailySnapshot) (string, error) {
	missing := snapshot.MissingSymbols
	if missing == nil {
		missing = []string{}
	}
	date := models.SnapshotDate(snapshot.Date)

	var id string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO daily_snapshots (id, client_id, snapshot_date, total_value_usd, partial, missing_symbols, created_at)
			VALUES ($1::uuid, $2, $3, $4::numeric, $5, $6, $7)
			ON CONFLICT (client_id, snapshot_date) DO NOTHING
			RETURNING id::text
		`,
			snapshot.ID,
			snapshot.ClientID,
			date,
			snapshot.TotalValueUSD.String(),
			snapshot.Partial,
			missing,
			snapshot.CreatedAt.UTC(),
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewDuplicateSnapshotError(snapshot.ClientID, date.Format(time.DateOnly))
		}
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		for _, ws := range snapshot.WalletSnapshots {
			var walletSnapshotID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO wallet_snapshots (snapshot_id, wallet_id, value_usd)
				VALUES ($1::uuid, $2, $3::numeric)
				RETURNING id
			`, id, ws.WalletID, ws.ValueUSD.String()).Scan(&walletSnapshotID)
			if err != nil {
				return fmt.Errorf("failed to insert wallet snapshot %s: %w", ws.WalletID, err)
			}

			batch := &pgx.Batch{}
			for _, ts := range ws.TokenSnapshots {
				batch.Queue(`
					INSERT INTO token_snapshots (wallet_snapshot_id, symbol, balance, value_usd, price_missing)
					VALUES ($1, $2, $3::numeric, $4::numeric, $5)
				`, walletSnapshotID, ts.Symbol, ts.Balance.String(), ts.ValueUSD.String(), ts.PriceMissing)
			}
			if batch.Len() == 0 {
				continue
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert token snapshots for %s: %w", ws.WalletID, err)
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperrors.NewDuplicateSnapshotError(snapshot.ClientID, date.Format(time.DateOnly))
		}
		return "", err
	}
	return id, nil
}

// FindSnapshot returns the client's snapshot for date, or nil when none exists
func (r *SnapshotRepository) FindSnapshot(ctx context.Context, clientID string, date time.Time) (*models.DailySnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE client_id = $1 AND snapshot_date = $2
	`, clientID, models.SnapshotDate(date))

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadWallets(ctx, []*models.DailySnapshot{snapshot}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// LatestSnapshot returns the most recent snapshot of a client, or nil
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, clientID string) (*models.DailySnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE client_id = $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, clientID)

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadWallets(ctx, []*models.DailySnapshot{snapshot}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListSnapshots returns a client's snapshots within [from, to] in date order
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, clientID string, from, to time.Time) ([]*models.DailySnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE client_id = $1
			AND snapshot_date >= $2
			AND snapshot_date <= $3
		ORDER BY snapshot_date ASC
	`, clientID, models.SnapshotDate(from), models.SnapshotDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*models.DailySnapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	if err := r.loadWallets(ctx, snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// DeleteSnapshotsBefore removes snapshots dated strictly before cutoff,
// except each client's most recent one. Nested rows go with them.
func (r *SnapshotRepository) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM daily_snapshots d
		WHERE d.snapshot_date < $1
			AND d.snapshot_date < (
				SELECT MAX(l.snapshot_date)
				FROM daily_snapshots l
				WHERE l.client_id = d.client_id
			)
	`, models.SnapshotDate(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(row pgx.Row) (*models.DailySnapshot, error) {
	var (
		s     models.DailySnapshot
		total string
	)
	err := row.Scan(&s.ID, &s.ClientID, &s.Date, &total, &s.Partial, &s.MissingSymbols, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if s.TotalValueUSD, err = parseNumeric("total_value_usd", total); err != nil {
		return nil, err
	}
	s.Date = models.SnapshotDate(s.Date)
	s.CreatedAt = s.CreatedAt.UTC()
	if len(s.MissingSymbols) == 0 {
		s.MissingSymbols = nil
	}
	s.WalletSnapshots = []models.WalletSnapshot{}
	return &s, nil
}

// loadWallets fills the wallet and token breakdown of the given snapshots
func (r *SnapshotRepository) loadWallets(ctx context.Context, snapshots []*models.DailySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	byID := make(map[string]*models.DailySnapshot, len(snapshots))
	ids := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ws.snapshot_id::text, ws.id, ws.wallet_id, ws.value_usd::text,
			ts.symbol, ts.balance::text, ts.value_usd::text, ts.price_missing
		FROM wallet_snapshots ws
		LEFT JOIN token_snapshots ts ON ts.wallet_snapshot_id = ws.id
		WHERE ws.snapshot_id = ANY($1::text[]::uuid[])
		ORDER BY ws.snapshot_id, ws.id, ts.id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query wallet snapshots: %w", err)
	}
	defer rows.Close()

	lastWallet := make(map[string]int64)
	for rows.Next() {
		var (
			snapshotID, walletID, walletValue string
			walletSnapshotID                  int64
			symbol, balance, tokenValue       *string
			priceMissing                      *bool
		)
		if err := rows.Scan(&snapshotID, &walletSnapshotID, &walletID, &walletValue,
			&symbol, &balance, &tokenValue, &priceMissing); err != nil {
			return fmt.Errorf("failed to scan wallet snapshot: %w", err)
		}
		s := byID[snapshotID]
		if s == nil {
			continue
		}

		if last, ok := lastWallet[snapshotID]; !ok || last != walletSnapshotID {
			value, err := parseNumeric("wallet value_usd", walletValue)
			if err != nil {
				return err
			}
			s.WalletSnapshots = append(s.WalletSnapshots, models.WalletSnapshot{
				WalletID:       walletID,
				ValueUSD:       value,
				TokenSnapshots: []models.TokenSnapshot{},
			})
			lastWallet[snapshotID] = walletSnapshotID
		}
		if symbol == nil {
			continue
		}

		ts := models.TokenSnapshot{Symbol: *symbol, PriceMissing: priceMissing != nil && *priceMissing}
		if balance != nil {
			if ts.Balance, err = parseNumeric("balance", *balance); err != nil {
				return err
			}
		}
		if tokenValue != nil {
			if ts.ValueUSD, err = parseNumeric("token value_usd", *tokenValue); err != nil {
				return err
			}
		}
		ws := &s.WalletSnapshots[len(s.WalletSnapshots)-1]
		ws.TokenSnapshots = append(ws.TokenSnapshots, ts)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating wallet snapshots: %w", err)
	}
	return nil
}
