package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed catalog reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a single capability by key.
func (r *Repository) Get(ctx context.Context, key string) (Capability, error) {
	var capability Capability
	err := r.pool.QueryRow(ctx, `
		SELECT key, module, dangerous, deprecated
		FROM capabilities
		WHERE key = $1`, key).Scan(&capability.Key, &capability.Module, &capability.Dangerous, &capability.Deprecated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Capability{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Capability{}, fmt.Errorf("catalog: get %s: %w", key, err)
	}
	return capability, nil
}

// List returns every capability in the catalog.
func (r *Repository) List(ctx context.Context) ([]Capability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, module, dangerous, deprecated
		FROM capabilities
		ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()
	var caps []Capability
	for rows.Next() {
		var capability Capability
		if err := rows.Scan(&capability.Key, &capability.Module, &capability.Dangerous, &capability.Deprecated); err != nil {
			return nil, fmt.Errorf("catalog: scan capability: %w", err)
		}
		caps = append(caps, capability)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list rows: %w", err)
	}
	SortByKey(caps)
	return caps, nil
}
