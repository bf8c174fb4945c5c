package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

// TransactionRepository reads and appends client ledger entries
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// GetTransactions returns a client's ledger ordered by timestamp
func (r *TransactionRepository) GetTransactions(ctx context.Context, clientID string) ([]models.Transaction, error) {
	query := `
		SELECT id, client_id, kind, symbol,
			quantity::text, unit_price::text, fee::text, timestamp_utc
		FROM transactions
		WHERE client_id = $1
		ORDER BY timestamp_utc, id
	`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var (
			tx                   models.Transaction
			kind                 string
			quantity, price, fee string
		)
		if err := rows.Scan(&tx.ID, &tx.ClientID, &kind, &tx.Symbol, &quantity, &price, &fee, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Kind = types.TransactionKind(kind)
		tx.Timestamp = tx.Timestamp.UTC()

		if tx.Quantity, err = parseNumeric("quantity", quantity); err != nil {
			return nil, err
		}
		if tx.UnitPrice, err = parseNumeric("unit_price", price); err != nil {
			return nil, err
		}
		if tx.Fee, err = parseNumeric("fee", fee); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// Append inserts a ledger entry. Entries are never updated.
func (r *TransactionRepository) Append(ctx context.Context, tx *models.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, client_id, kind, symbol, quantity, unit_price, fee, timestamp_utc)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8)
	`,
		tx.ID,
		tx.ClientID,
		string(tx.Kind),
		models.NormalizeSymbol(tx.Symbol),
		tx.Quantity.String(),
		tx.UnitPrice.String(),
		tx.Fee.String(),
		tx.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
