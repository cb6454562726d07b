package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/vantage-ehs/vantage/internal/catalog"
	"github.com/vantage-ehs/vantage/internal/scope"
)

// Guard enforces the write-side invariants administrative collaborators must
// satisfy before persisting role assignments or overrides. Read-side
// resolution trusts that stored data already passed it.
type Guard struct {
	catalog catalog.Store
	scopes  scope.Resolver
}

// NewGuard constructs a guard over the catalog and hierarchy.
func NewGuard(catalogStore catalog.Store, scopes scope.Resolver) *Guard {
	return &Guard{catalog: catalogStore, scopes: scopes}
}

// ValidateAssignment checks a role assignment before it is persisted. Every
// granted capability must exist, must not be deprecated, and dangerous
// capabilities must not be granted broader than site.
func (g *Guard) ValidateAssignment(ctx context.Context, assignment RoleAssignment) error {
	if err := g.validateScope(ctx, assignment.Scope); err != nil {
		return err
	}
	for key := range assignment.Capabilities {
		if err := g.validateGrant(ctx, key, assignment.Scope); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOverride checks an override before it is persisted. Duplicate
// detection is left to the store's unique constraint; the guard covers the
// catalog and scope invariants.
func (g *Guard) ValidateOverride(ctx context.Context, override Override) error {
	if err := g.validateScope(ctx, override.Scope); err != nil {
		return err
	}
	return g.validateGrant(ctx, override.CapabilityKey, override.Scope)
}

func (g *Guard) validateScope(ctx context.Context, ref scope.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if _, err := g.scopes.Ancestors(ctx, ref); err != nil {
		if errors.Is(err, scope.ErrUnknownScope) {
			return err
		}
		return storeErr("scope ancestors", err)
	}
	return nil
}

func (g *Guard) validateGrant(ctx context.Context, key string, ref scope.Ref) error {
	capability, err := g.catalog.Get(ctx, key)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCapability, key)
		}
		return storeErr("catalog get", err)
	}
	if capability.Deprecated {
		return fmt.Errorf("%w: %s is deprecated", ErrUnknownCapability, key)
	}
	if capability.Dangerous && ref.Level.Broader(scope.LevelSite) {
		return fmt.Errorf("%w: %s at %s", ErrDangerousScope, key, ref)
	}
	return nil
}
