package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-ehs/vantage/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for role templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListTemplates returns all role templates with their capability sets.
func (r *Repository) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at, c.capability_key
		FROM roles r
		LEFT JOIN role_capabilities c ON c.role_id = r.id
		ORDER BY r.name, r.id`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var (
		templates []Template
		lastID    string
	)
	for rows.Next() {
		var (
			t   Template
			key *string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt, &key); err != nil {
			return nil, fmt.Errorf("roles: scan template: %w", err)
		}
		if t.ID != lastID {
			templates = append(templates, t)
			lastID = t.ID
		}
		if key != nil {
			last := &templates[len(templates)-1]
			last.Capabilities = append(last.Capabilities, *key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: list rows: %w", err)
	}
	return templates, nil
}

// GetTemplate fetches one template by id.
func (r *Repository) GetTemplate(ctx context.Context, id string) (Template, error) {
	var t Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles WHERE id = $1`, id).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, fmt.Errorf("roles: get: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT capability_key FROM role_capabilities WHERE role_id = $1 ORDER BY capability_key`, id)
	if err != nil {
		return Template{}, fmt.Errorf("roles: get capabilities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return Template{}, fmt.Errorf("roles: scan capability: %w", err)
		}
		t.Capabilities = append(t.Capabilities, key)
	}
	if err := rows.Err(); err != nil {
		return Template{}, fmt.Errorf("roles: capability rows: %w", err)
	}
	return t, nil
}

// CreateTemplate inserts a template with its capability set.
func (r *Repository) CreateTemplate(ctx context.Context, name, description string, capabilities []string) (Template, error) {
	id := uuid.NewString()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO roles (id, name, description, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())`, id, name, description); err != nil {
			return fmt.Errorf("roles: insert: %w", err)
		}
		return insertCapabilities(ctx, tx, id, capabilities)
	})
	if err != nil {
		return Template{}, err
	}
	return r.GetTemplate(ctx, id)
}

// ReplaceTemplate updates a template and replaces its capability set
// wholesale; there are no partial edits.
func (r *Repository) ReplaceTemplate(ctx context.Context, id, name, description string, capabilities []string) (Template, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE roles SET name = $2, description = $3, updated_at = NOW()
			WHERE id = $1`, id, name, description)
		if err != nil {
			return fmt.Errorf("roles: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_capabilities WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("roles: clear capabilities: %w", err)
		}
		return insertCapabilities(ctx, tx, id, capabilities)
	})
	if err != nil {
		return Template{}, err
	}
	return r.GetTemplate(ctx, id)
}

// DeleteTemplate removes a template. Returns ErrNotFound when nothing was
// deleted.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertCapabilities(ctx context.Context, tx pgx.Tx, roleID string, capabilities []string) error {
	for _, key := range capabilities {
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_capabilities (role_id, capability_key)
			VALUES ($1, $2)`, roleID, key); err != nil {
			return fmt.Errorf("roles: insert capability: %w", err)
		}
	}
	return nil
}
