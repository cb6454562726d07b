package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository menyediakan akses PostgreSQL untuk decision_audit.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit baru.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertDecision menyimpan satu entri keputusan.
func (r *Repository) InsertDecision(ctx context.Context, entry DecisionEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO decision_audit (
			id, user_id, requested_by, capability_key, queried_scope,
			result, source, matched_scope, dangerous, unscoped, integrity_note, at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.UserID, entry.RequestedBy, entry.CapabilityKey, entry.QueriedScope,
		entry.Result, entry.Source, entry.MatchedScope, entry.Dangerous, entry.Unscoped,
		entry.IntegrityNote, entry.At)
	if err != nil {
		return fmt.Errorf("audit: insert decision: %w", err)
	}
	return nil
}

// TimelineWindow mengambil entri dalam rentang waktu dengan offset/limit.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]DecisionEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, requested_by, capability_key, queried_scope,
		       result, source, matched_scope, dangerous, unscoped, integrity_note, at
		FROM decision_audit
		WHERE ($1::timestamptz IS NULL OR at >= $1)
		  AND ($2::timestamptz IS NULL OR at < $2)
		  AND ($3::text = '' OR user_id = $3)
		  AND ($4::text = '' OR capability_key = $4)
		  AND ($5::text = '' OR result = $5)
		ORDER BY at DESC, id
		OFFSET $6 LIMIT $7`,
		nullableTime(filters.From), nullableTime(filters.To),
		filters.UserID, filters.Capability, filters.Result,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var entry DecisionEntry
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.RequestedBy, &entry.CapabilityKey, &entry.QueriedScope,
			&entry.Result, &entry.Source, &entry.MatchedScope, &entry.Dangerous, &entry.Unscoped,
			&entry.IntegrityNote, &entry.At); err != nil {
			return nil, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: timeline rows: %w", err)
	}
	return entries, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
