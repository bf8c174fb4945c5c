package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientRepository enumerates portfolio owners
type ClientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository creates a new client repository
func NewClientRepository(pool *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

// ListClientIDs returns every client id in a stable order
func (r *ClientRepository) ListClientIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return ids, nil
}

// Create registers a client; an existing id is left untouched
func (r *ClientRepository) Create(ctx context.Context, id, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}
