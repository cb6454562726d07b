package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-ehs/vantage/internal/platform/db"
	"github.com/vantage-ehs/vantage/internal/scope"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("authz: not found")

// Repository provides PostgreSQL backed persistence for role assignments and
// overrides. It implements both read ports of the engine and the write
// operations the administrative services need.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRoleAssignments returns every assignment held by the user, each with
// its granted capability snapshot.
func (r *Repository) GetRoleAssignments(ctx context.Context, userID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.role_id, a.scope_level, a.scope_id, a.created_at, c.capability_key
		FROM role_assignments a
		LEFT JOIN assignment_capabilities c ON c.assignment_id = a.id
		WHERE a.user_id = $1
		ORDER BY a.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: list assignments: %w", err)
	}
	defer rows.Close()

	var (
		assignments []RoleAssignment
		lastID      string
	)
	for rows.Next() {
		var (
			id, uid, roleID, level, scopeID string
			createdAt                       time.Time
			capabilityKey                   *string
		)
		if err := rows.Scan(&id, &uid, &roleID, &level, &scopeID, &createdAt, &capabilityKey); err != nil {
			return nil, fmt.Errorf("authz: scan assignment: %w", err)
		}
		if id != lastID {
			ref, err := scopeRef(level, scopeID)
			if err != nil {
				return nil, err
			}
			assignments = append(assignments, RoleAssignment{
				UserID:       uid,
				RoleID:       roleID,
				Capabilities: make(map[string]struct{}),
				Scope:        ref,
				CreatedAt:    createdAt,
			})
			lastID = id
		}
		if capabilityKey != nil {
			assignments[len(assignments)-1].Capabilities[*capabilityKey] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: assignment rows: %w", err)
	}
	return assignments, nil
}

// GetOverrides returns every active override held by the user.
func (r *Repository) GetOverrides(ctx context.Context, userID string) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, capability_key, decision, scope_level, scope_id, created_at
		FROM permission_overrides
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var (
			uid, key, decision, level, scopeID string
			createdAt                          time.Time
		)
		if err := rows.Scan(&uid, &key, &decision, &level, &scopeID, &createdAt); err != nil {
			return nil, fmt.Errorf("authz: scan override: %w", err)
		}
		effect, ok := ParseEffect(decision)
		if !ok {
			return nil, fmt.Errorf("authz: corrupt override decision %q for user %s", decision, uid)
		}
		ref, err := scopeRef(level, scopeID)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, Override{
			UserID:        uid,
			CapabilityKey: key,
			Decision:      effect,
			Scope:         ref,
			CreatedAt:     createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: override rows: %w", err)
	}
	return overrides, nil
}

// ReplaceAssignment persists an assignment, replacing any prior assignment
// of the same role to the same user at the same scope together with its
// capability snapshot. Partial edits do not exist.
func (r *Repository) ReplaceAssignment(ctx context.Context, assignment RoleAssignment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		level, scopeID := scopeColumns(assignment.Scope)
		if _, err := tx.Exec(ctx, `
			DELETE FROM role_assignments
			WHERE user_id = $1 AND role_id = $2 AND scope_level = $3 AND scope_id = $4`,
			assignment.UserID, assignment.RoleID, level, scopeID); err != nil {
			return fmt.Errorf("authz: clear assignment: %w", err)
		}
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_assignments (id, user_id, role_id, scope_level, scope_id, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())`,
			id, assignment.UserID, assignment.RoleID, level, scopeID); err != nil {
			return fmt.Errorf("authz: insert assignment: %w", err)
		}
		for key := range assignment.Capabilities {
			if _, err := tx.Exec(ctx, `
				INSERT INTO assignment_capabilities (assignment_id, capability_key)
				VALUES ($1, $2)`, id, key); err != nil {
				return fmt.Errorf("authz: insert assignment capability: %w", err)
			}
		}
		return nil
	})
}

// RevokeAssignment removes an assignment. Returns ErrNotFound when nothing
// was revoked.
func (r *Repository) RevokeAssignment(ctx context.Context, userID, roleID string, ref scope.Ref) error {
	level, scopeID := scopeColumns(ref)
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM role_assignments
		WHERE user_id = $1 AND role_id = $2 AND scope_level = $3 AND scope_id = $4`,
		userID, roleID, level, scopeID)
	if err != nil {
		return fmt.Errorf("authz: revoke assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveOverride reports whether an override exists for the tuple.
func (r *Repository) HasActiveOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) (bool, error) {
	level, scopeID := scopeColumns(ref)
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permission_overrides
			WHERE user_id = $1 AND capability_key = $2 AND scope_level = $3 AND scope_id = $4
		)`, userID, capabilityKey, level, scopeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("authz: override exists: %w", err)
	}
	return exists, nil
}

// InsertOverride creates a new override and refuses to touch an existing
// one. A unique index on the tuple surfaces concurrent duplicates as
// ErrDuplicateOverride.
func (r *Repository) InsertOverride(ctx context.Context, override Override) error {
	level, scopeID := scopeColumns(override.Scope)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permission_overrides (id, user_id, capability_key, decision, scope_level, scope_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.NewString(), override.UserID, override.CapabilityKey, string(override.Decision), level, scopeID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOverride
		}
		return fmt.Errorf("authz: insert override: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is the unique-index violation
// PostgreSQL raises for an occupied override tuple.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertOverride supersedes any active override for the tuple in place;
// overrides never stack.
func (r *Repository) UpsertOverride(ctx context.Context, override Override) error {
	level, scopeID := scopeColumns(override.Scope)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permission_overrides (id, user_id, capability_key, decision, scope_level, scope_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, capability_key, scope_level, scope_id)
		DO UPDATE SET decision = EXCLUDED.decision, created_at = NOW()`,
		uuid.NewString(), override.UserID, override.CapabilityKey, string(override.Decision), level, scopeID)
	if err != nil {
		return fmt.Errorf("authz: upsert override: %w", err)
	}
	return nil
}

// DeleteOverride removes an override explicitly; overrides never expire on
// their own. Returns ErrNotFound when nothing matched.
func (r *Repository) DeleteOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) error {
	level, scopeID := scopeColumns(ref)
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM permission_overrides
		WHERE user_id = $1 AND capability_key = $2 AND scope_level = $3 AND scope_id = $4`,
		userID, capabilityKey, level, scopeID)
	if err != nil {
		return fmt.Errorf("authz: delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scopeColumns maps a Ref onto the (scope_level, scope_id) columns. The
// global root is stored with an empty scope_id so the unique index on
// override tuples still bites.
func scopeColumns(ref scope.Ref) (string, string) {
	return string(ref.Level), ref.ID
}

func scopeRef(level, id string) (scope.Ref, error) {
	parsed, err := scope.ParseLevel(level)
	if err != nil {
		return scope.Ref{}, err
	}
	ref := scope.Ref{Level: parsed, ID: id}
	if err := ref.Validate(); err != nil {
		return scope.Ref{}, err
	}
	return ref, nil
}
