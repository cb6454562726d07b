package scope

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed hierarchy lookups over org_scopes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ancestors walks the parent chain for ref. The global root is implicit and
// appended to every path.
func (r *Repository) Ancestors(ctx context.Context, ref Ref) (Path, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if ref.IsGlobal() {
		return Path{Global}, nil
	}
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, level, parent_id, 0 AS depth
			FROM org_scopes
			WHERE id = $1
			UNION ALL
			SELECT o.id, o.level, o.parent_id, c.depth + 1
			FROM org_scopes o
			JOIN chain c ON o.id = c.parent_id
		)
		SELECT id, level FROM chain ORDER BY depth`, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("scope: ancestors query: %w", err)
	}
	defer rows.Close()

	var path Path
	for rows.Next() {
		var id, level string
		if err := rows.Scan(&id, &level); err != nil {
			return nil, fmt.Errorf("scope: scan ancestor: %w", err)
		}
		parsed, err := ParseLevel(level)
		if err != nil {
			return nil, err
		}
		path = append(path, Ref{Level: parsed, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scope: ancestors rows: %w", err)
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, ref)
	}
	if path[0].Level != ref.Level {
		// The id exists but at a different tier; callers asked for a node
		// that is not in the tree as described.
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnknownScope, ref, path[0].Level)
	}
	path = append(path, Global)
	if err := path.Validate(); err != nil {
		return nil, fmt.Errorf("scope: corrupt hierarchy for %s: %w", ref, err)
	}
	return path, nil
}
