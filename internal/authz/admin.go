package authz

import (
	"context"
	"log/slog"

	"github.com/vantage-ehs/vantage/internal/scope"
)

// AdminRepository defines the write operations the administrative service
// needs on top of the engine's read ports.
type AdminRepository interface {
	ReplaceAssignment(ctx context.Context, assignment RoleAssignment) error
	RevokeAssignment(ctx context.Context, userID, roleID string, ref scope.Ref) error
	HasActiveOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) (bool, error)
	InsertOverride(ctx context.Context, override Override) error
	UpsertOverride(ctx context.Context, override Override) error
	DeleteOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) error
}

// Admin is the write path administrative collaborators talk to. Every write
// passes the guard before it reaches the store.
type Admin struct {
	guard  *Guard
	repo   AdminRepository
	logger *slog.Logger
}

// NewAdmin constructs the administrative service.
func NewAdmin(guard *Guard, repo AdminRepository, logger *slog.Logger) *Admin {
	return &Admin{guard: guard, repo: repo, logger: logger}
}

// ValidateAssignment runs the write-side guard without persisting anything.
func (a *Admin) ValidateAssignment(ctx context.Context, assignment RoleAssignment) error {
	return a.guard.ValidateAssignment(ctx, assignment)
}

// AssignRole validates and persists a role assignment, replacing any prior
// assignment of the same role at the same scope.
func (a *Admin) AssignRole(ctx context.Context, assignment RoleAssignment) error {
	if err := a.guard.ValidateAssignment(ctx, assignment); err != nil {
		return err
	}
	if err := a.repo.ReplaceAssignment(ctx, assignment); err != nil {
		return err
	}
	a.logger.Info("role assigned",
		slog.String("user_id", assignment.UserID),
		slog.String("role_id", assignment.RoleID),
		slog.String("scope", assignment.Scope.String()))
	return nil
}

// RevokeRole destroys an assignment.
func (a *Admin) RevokeRole(ctx context.Context, userID, roleID string, ref scope.Ref) error {
	if err := a.repo.RevokeAssignment(ctx, userID, roleID, ref); err != nil {
		return err
	}
	a.logger.Info("role revoked",
		slog.String("user_id", userID),
		slog.String("role_id", roleID),
		slog.String("scope", ref.String()))
	return nil
}

// ValidateOverride runs the guard and reports ErrDuplicateOverride when an
// active override already occupies the tuple.
func (a *Admin) ValidateOverride(ctx context.Context, override Override) error {
	if err := a.guard.ValidateOverride(ctx, override); err != nil {
		return err
	}
	exists, err := a.repo.HasActiveOverride(ctx, override.UserID, override.CapabilityKey, override.Scope)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateOverride
	}
	return nil
}

// CreateOverride validates and inserts an override, refusing to touch an
// active one. The unique index on the tuple backs the refusal, so two
// concurrent creates cannot both win.
func (a *Admin) CreateOverride(ctx context.Context, override Override) error {
	if err := a.guard.ValidateOverride(ctx, override); err != nil {
		return err
	}
	if err := a.repo.InsertOverride(ctx, override); err != nil {
		return err
	}
	a.logger.Info("override created",
		slog.String("user_id", override.UserID),
		slog.String("capability", override.CapabilityKey),
		slog.String("decision", string(override.Decision)),
		slog.String("scope", override.Scope.String()))
	return nil
}

// PutOverride validates and stores an override, superseding any active one
// for the same (user, capability, scope) tuple. Overrides never stack.
func (a *Admin) PutOverride(ctx context.Context, override Override) error {
	if err := a.guard.ValidateOverride(ctx, override); err != nil {
		return err
	}
	if err := a.repo.UpsertOverride(ctx, override); err != nil {
		return err
	}
	a.logger.Info("override stored",
		slog.String("user_id", override.UserID),
		slog.String("capability", override.CapabilityKey),
		slog.String("decision", string(override.Decision)),
		slog.String("scope", override.Scope.String()))
	return nil
}

// RemoveOverride deletes an override explicitly.
func (a *Admin) RemoveOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) error {
	if err := a.repo.DeleteOverride(ctx, userID, capabilityKey, ref); err != nil {
		return err
	}
	a.logger.Info("override removed",
		slog.String("user_id", userID),
		slog.String("capability", capabilityKey),
		slog.String("scope", ref.String()))
	return nil
}
