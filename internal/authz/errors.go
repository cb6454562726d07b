package authz

import (
	"errors"
	"fmt"
)

// Error taxonomy. A Decision with Result=Deny is a legitimate negative
// result; these errors mean no decision could be made and must never be
// collapsed into a deny.
var (
	// ErrUnknownCapability indicates the capability key is not in the
	// catalog. Resolution short-circuits without evaluating overrides.
	ErrUnknownCapability = errors.New("authz: unknown capability")
	// ErrNoAssignments indicates the user holds zero role assignments
	// anywhere, which usually points at a provisioning bug.
	ErrNoAssignments = errors.New("authz: user has no role assignments")
	// ErrStoreUnavailable wraps read-port failures.
	ErrStoreUnavailable = errors.New("authz: store unavailable")

	// ErrDangerousScope is returned by the write-path guard when a dangerous
	// capability would be granted broader than site.
	ErrDangerousScope = errors.New("authz: dangerous capability requires site scope or narrower")
	// ErrDuplicateOverride is returned by the write path when an active
	// override already exists for the (user, capability, scope) tuple.
	ErrDuplicateOverride = errors.New("authz: active override already exists for tuple")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
