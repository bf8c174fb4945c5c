package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-valuation/internal/models"
	"github.com/portfolio-valuation/internal/types"
)

// WalletRepository reads client wallets and their current token holdings
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// GetWallets returns the client's wallets with holdings, in creation order
func (r *WalletRepository) GetWallets(ctx context.Context, clientID string) ([]models.Wallet, error) {
	query := `
		SELECT w.id, w.client_id, w.address, w.chain_type,
			h.symbol, h.balance::text
		FROM wallets w
		LEFT JOIN token_holdings h ON h.wallet_id = w.id
		WHERE w.client_id = $1
		ORDER BY w.created_at, w.id, h.symbol
	`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	wallets := []models.Wallet{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			w       models.Wallet
			chain   string
			symbol  *string
			balance *string
		)
		if err := rows.Scan(&w.ID, &w.ClientID, &w.Address, &chain, &symbol, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		w.ChainType = types.ChainType(chain)

		i, ok := index[w.ID]
		if !ok {
			wallets = append(wallets, w)
			i = len(wallets) - 1
			index[w.ID] = i
		}
		if symbol == nil || balance == nil {
			continue
		}
		amount, err := parseNumeric("balance", *balance)
		if err != nil {
			return nil, err
		}
		wallets[i].Holdings = append(wallets[i].Holdings, models.TokenHolding{Symbol: *symbol, Balance: amount})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

// Save upserts a wallet and replaces its holdings in one transaction
func (r *WalletRepository) Save(ctx context.Context, wallet *models.Wallet) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallets (id, client_id, address, chain_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET address = EXCLUDED.address, chain_type = EXCLUDED.chain_type
		`, wallet.ID, wallet.ClientID, wallet.Address, string(wallet.ChainType))
		if err != nil {
			return fmt.Errorf("failed to upsert wallet: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM token_holdings WHERE wallet_id = $1`, wallet.ID); err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}

		batch := &pgx.Batch{}
		for _, h := range wallet.Holdings {
			batch.Queue(`
				INSERT INTO token_holdings (wallet_id, symbol, balance)
				VALUES ($1, $2, $3::numeric)
			`, wallet.ID, models.NormalizeSymbol(h.Symbol), h.Balance.String())
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert holdings: %w", err)
		}
		return nil
	})
}
