package authz

import (
	"context"
	"time"

	"github.com/vantage-ehs/vantage/internal/scope"
)

// Effect is the polarity of a grant or decision.
type Effect string

// Effects.
const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// ParseEffect converts a raw string into an Effect.
func ParseEffect(raw string) (Effect, bool) {
	switch Effect(raw) {
	case Allow:
		return Allow, true
	case Deny:
		return Deny, true
	default:
		return "", false
	}
}

// Source identifies what determined a decision.
type Source string

// Decision sources.
const (
	SourceRoleDefault Source = "role_default"
	SourceOverride    Source = "override"
)

// RoleAssignment grants a role template's capability set to a user at a
// scope. Assignments are replaced wholesale, never partially edited.
type RoleAssignment struct {
	UserID       string
	RoleID       string
	Capabilities map[string]struct{}
	Scope        scope.Ref
	CreatedAt    time.Time
}

// Grants reports whether the assignment's role template includes the key.
func (a RoleAssignment) Grants(key string) bool {
	_, ok := a.Capabilities[key]
	return ok
}

// Override is a per-user, per-scope exception to role defaults. At most one
// override is active per (user, capability, scope) tuple.
type Override struct {
	UserID        string
	CapabilityKey string
	Decision      Effect
	Scope         scope.Ref
	CreatedAt     time.Time
}

// Decision is the engine's output for one (user, capability, scope) query.
type Decision struct {
	CapabilityKey string
	QueriedScope  scope.Ref
	Result        Effect
	Source        Source
	MatchedScope  *scope.Ref
	Dangerous     bool
	// Unscoped marks queries where no role assignment covered the queried
	// scope at all; the deny is a fail-closed default rather than a grant
	// evaluation.
	Unscoped bool
	// IntegrityNote carries read-time data-integrity findings (e.g. a stored
	// dangerous grant broader than site) for the audit trail. The decision
	// itself is not corrected.
	IntegrityNote string
}

// DecisionRecord is the audit payload handed to the emitter for every
// resolved decision.
type DecisionRecord struct {
	UserID      string
	RequestedBy string
	Decision    Decision
	At          time.Time
}

// AssignmentStore is the read port over stored role assignments.
type AssignmentStore interface {
	GetRoleAssignments(ctx context.Context, userID string) ([]RoleAssignment, error)
}

// OverrideStore is the read port over stored overrides.
type OverrideStore interface {
	GetOverrides(ctx context.Context, userID string) ([]Override, error)
}

// Emitter receives decision records for compliance audit. Implementations
// must be fire-and-forget: a failed emit is their own health problem, never
// the resolver's.
type Emitter interface {
	Emit(ctx context.Context, record DecisionRecord) error
}
