package scope

import (
	"context"
	"errors"
)

// ErrUnknownScope indicates the referenced node does not exist in the
// organisational hierarchy.
var ErrUnknownScope = errors.New("scope: unknown scope")

// Resolver answers ancestor queries over the org hierarchy. Implementations
// are read-only adapters; the engine never mutates scope data.
type Resolver interface {
	// Ancestors returns ref and all its ancestors up to global, most
	// specific first. Returns ErrUnknownScope for ids missing from the
	// hierarchy.
	Ancestors(ctx context.Context, ref Ref) (Path, error)
}

// IsAncestorOrSelf reports whether a lies on the ancestor chain of b.
func IsAncestorOrSelf(ctx context.Context, resolver Resolver, a, b Ref) (bool, error) {
	path, err := resolver.Ancestors(ctx, b)
	if err != nil {
		return false, err
	}
	return path.Contains(a), nil
}
