package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantage-ehs/vantage/internal/catalog"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

// Engine resolves effective permissions for (user, capability, scope)
// queries. It is stateless: every resolution is a deterministic function of
// the data its read ports return, so concurrent calls need no locking.
type Engine struct {
	catalog     catalog.Store
	scopes      scope.Resolver
	assignments AssignmentStore
	overrides   OverrideStore
	emitter     Emitter
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine wires the engine's read ports. The emitter may be nil, in which
// case no audit records are produced.
func NewEngine(catalogStore catalog.Store, scopes scope.Resolver, assignments AssignmentStore, overrides OverrideStore, emitter Emitter, logger *slog.Logger) *Engine {
	return &Engine{
		catalog:     catalogStore,
		scopes:      scopes,
		assignments: assignments,
		overrides:   overrides,
		emitter:     emitter,
		logger:      logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Resolve computes the effective decision for one capability at one scope.
// Returned errors follow the package taxonomy; a deny is returned as a
// Decision, never as an error.
func (e *Engine) Resolve(ctx context.Context, userID, capabilityKey string, queried scope.Ref) (Decision, error) {
	if err := queried.Validate(); err != nil {
		return Decision{}, err
	}
	capability, err := e.catalog.Get(ctx, capabilityKey)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Decision{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capabilityKey)
		}
		return Decision{}, storeErr("catalog get", err)
	}

	path, assignments, overrides, err := e.load(ctx, userID, queried)
	if err != nil {
		return Decision{}, err
	}

	decision := evaluate(capability, queried, path, assignments, overrides)
	e.emit(ctx, userID, decision)
	return decision, nil
}

// ResolveAll evaluates every catalog capability for one user at one scope,
// reusing a single ancestor-path computation and one load per store.
func (e *Engine) ResolveAll(ctx context.Context, userID string, queried scope.Ref) ([]Decision, error) {
	if err := queried.Validate(); err != nil {
		return nil, err
	}
	capabilities, err := e.catalog.List(ctx)
	if err != nil {
		return nil, storeErr("catalog list", err)
	}

	path, assignments, overrides, err := e.load(ctx, userID, queried)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(capabilities))
	for _, capability := range capabilities {
		decision := evaluate(capability, queried, path, assignments, overrides)
		e.emit(ctx, userID, decision)
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// load performs the snapshot reads shared by Resolve and ResolveAll.
func (e *Engine) load(ctx context.Context, userID string, queried scope.Ref) (scope.Path, []RoleAssignment, []Override, error) {
	path, err := e.scopes.Ancestors(ctx, queried)
	if err != nil {
		if errors.Is(err, scope.ErrUnknownScope) || errors.Is(err, scope.ErrInvalidRef) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, storeErr("scope ancestors", err)
	}
	assignments, err := e.assignments.GetRoleAssignments(ctx, userID)
	if err != nil {
		return nil, nil, nil, storeErr("role assignments", err)
	}
	if len(assignments) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: user %s", ErrNoAssignments, userID)
	}
	overrides, err := e.overrides.GetOverrides(ctx, userID)
	if err != nil {
		return nil, nil, nil, storeErr("overrides", err)
	}
	return path, assignments, overrides, nil
}

// evaluate is the pure precedence core. Specificity, not polarity, is the
// sole axis: the override nearest the queried scope wins regardless of
// whether it allows or denies.
func evaluate(capability catalog.Capability, queried scope.Ref, path scope.Path, assignments []RoleAssignment, overrides []Override) Decision {
	decision := Decision{
		CapabilityKey: capability.Key,
		QueriedScope:  queried,
		Result:        Deny,
		Source:        SourceRoleDefault,
		Dangerous:     capability.Dangerous,
	}

	// Base decision: roles are additive. Any in-path assignment granting the
	// key allows; none covering the queried scope at all is an unscoped deny.
	inPath := false
	var integrity []string
	for _, assignment := range assignments {
		if !path.Contains(assignment.Scope) {
			continue
		}
		inPath = true
		if !assignment.Grants(capability.Key) {
			continue
		}
		if capability.Dangerous && assignment.Scope.Level.Broader(scope.LevelSite) {
			integrity = append(integrity, fmt.Sprintf("dangerous grant via role %s at %s", assignment.RoleID, assignment.Scope))
		}
		decision.Result = Allow
	}
	decision.Unscoped = !inPath

	if best, ok := selectOverride(capability.Key, path, overrides); ok {
		decision.Result = best.Decision
		decision.Source = SourceOverride
		matched := best.Scope
		decision.MatchedScope = &matched
		decision.Unscoped = false
		if capability.Dangerous && best.Scope.Level.Broader(scope.LevelSite) {
			integrity = append(integrity, fmt.Sprintf("dangerous override at %s", best.Scope))
		}
	}
	if len(integrity) > 0 {
		// Stored data violating the write-side dangerous guard is surfaced
		// to the audit trail, not silently corrected.
		decision.IntegrityNote = integrity[0]
		for _, note := range integrity[1:] {
			decision.IntegrityNote += "; " + note
		}
	}
	return decision
}

// selectOverride applies the precedence rules of the override core:
// candidates are overrides for the key whose scope lies on the ancestor
// path; the most specific scope level present wins; within that level the
// latest created_at wins and an exact tie resolves to deny.
func selectOverride(key string, path scope.Path, overrides []Override) (Override, bool) {
	var best Override
	bestDepth := -1
	found := false
	for _, ov := range overrides {
		if ov.CapabilityKey != key || !path.Contains(ov.Scope) {
			continue
		}
		depth := ov.Scope.Depth()
		switch {
		case depth > bestDepth:
			best, bestDepth, found = ov, depth, true
		case depth == bestDepth:
			best = tieBreak(best, ov)
		}
	}
	return best, found
}

// tieBreak handles duplicated overrides at the same scope, which the write
// path forbids but corrupt data may still contain: latest created_at wins,
// and on an exact timestamp tie the deny does.
func tieBreak(current, candidate Override) Override {
	switch {
	case candidate.CreatedAt.After(current.CreatedAt):
		return candidate
	case current.CreatedAt.After(candidate.CreatedAt):
		return current
	case candidate.Decision == Deny:
		return candidate
	default:
		return current
	}
}

func (e *Engine) emit(ctx context.Context, userID string, decision Decision) {
	if e.emitter == nil {
		return
	}
	record := DecisionRecord{
		UserID:      userID,
		RequestedBy: shared.ActorFromContext(ctx),
		Decision:    decision,
		At:          e.now(),
	}
	if err := e.emitter.Emit(ctx, record); err != nil && e.logger != nil {
		e.logger.Warn("decision audit emit failed",
			slog.String("user_id", userID),
			slog.String("capability", decision.CapabilityKey),
			slog.Any("error", err))
	}
}
