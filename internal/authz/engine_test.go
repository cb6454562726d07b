package authz

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantage-ehs/vantage/internal/catalog"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

type stubCatalog struct {
	caps map[string]catalog.Capability
	err  error
}

func (s *stubCatalog) Get(_ context.Context, key string) (catalog.Capability, error) {
	if s.err != nil {
		return catalog.Capability{}, s.err
	}
	capability, ok := s.caps[key]
	if !ok {
		return catalog.Capability{}, catalog.ErrNotFound
	}
	return capability, nil
}

func (s *stubCatalog) List(_ context.Context) ([]catalog.Capability, error) {
	if s.err != nil {
		return nil, s.err
	}
	caps := make([]catalog.Capability, 0, len(s.caps))
	for _, capability := range s.caps {
		caps = append(caps, capability)
	}
	catalog.SortByKey(caps)
	return caps, nil
}

type stubScopes struct {
	paths map[string]scope.Path
	calls int
	err   error
}

func (s *stubScopes) Ancestors(_ context.Context, ref scope.Ref) (scope.Path, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	path, ok := s.paths[ref.String()]
	if !ok {
		return nil, scope.ErrUnknownScope
	}
	return path, nil
}

type stubAssignments struct {
	assignments []RoleAssignment
	err         error
}

func (s *stubAssignments) GetRoleAssignments(_ context.Context, userID string) ([]RoleAssignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubOverrides struct {
	overrides []Override
	err       error
}

func (s *stubOverrides) GetOverrides(_ context.Context, userID string) ([]Override, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Override
	for _, ov := range s.overrides {
		if ov.UserID == userID {
			out = append(out, ov)
		}
	}
	return out, nil
}

type stubEmitter struct {
	records []DecisionRecord
	err     error
}

func (s *stubEmitter) Emit(_ context.Context, record DecisionRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

var (
	refC1 = scope.Ref{Level: scope.LevelClient, ID: "C1"}
	refC2 = scope.Ref{Level: scope.LevelClient, ID: "C2"}
	refS4 = scope.Ref{Level: scope.LevelSite, ID: "S4"}
	refS9 = scope.Ref{Level: scope.LevelSite, ID: "S9"}
	refP9 = scope.Ref{Level: scope.LevelProject, ID: "P9"}
	refPX = scope.Ref{Level: scope.LevelProject, ID: "P10"}
)

// testTree models one client with two sites (S4 carrying projects P9 and
// P10, plus S9) and an unrelated client C2.
func testTree() *stubScopes {
	return &stubScopes{paths: map[string]scope.Path{
		"global":      {scope.Global},
		"client:C1":   {refC1, scope.Global},
		"client:C2":   {refC2, scope.Global},
		"site:S4":     {refS4, refC1, scope.Global},
		"site:S9":     {refS9, refC1, scope.Global},
		"project:P9":  {refP9, refS4, refC1, scope.Global},
		"project:P10": {refPX, refS4, refC1, scope.Global},
	}}
}

func testCatalog() *stubCatalog {
	return &stubCatalog{caps: map[string]catalog.Capability{
		"hr.export":         {Key: "hr.export", Module: "hr", Dangerous: false},
		"permits.approve":   {Key: "permits.approve", Module: "permits"},
		"incidents.close":   {Key: "incidents.close", Module: "incidents", Dangerous: true},
		"inventory.adjust":  {Key: "inventory.adjust", Module: "inventory"},
		"legacy.bulkdelete": {Key: "legacy.bulkdelete", Module: "legacy", Deprecated: true},
	}}
}

func grants(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func newTestEngine(scopes *stubScopes, assignments *stubAssignments, overrides *stubOverrides, emitter *stubEmitter) *Engine {
	var em Emitter
	if emitter != nil {
		em = emitter
	}
	return NewEngine(testCatalog(), scopes, assignments, overrides, em, slog.Default())
}

func TestResolveUnknownCapability(t *testing.T) {
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "ghost.cap", Decision: Allow, Scope: scope.Global, CreatedAt: time.Now()},
	}}, nil)

	_, err := engine.Resolve(context.Background(), "u1", "ghost.cap", refP9)
	require.ErrorIs(t, err, ErrUnknownCapability)
}

func TestResolveUnknownScopeIsHardError(t *testing.T) {
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{}, nil)

	_, err := engine.Resolve(context.Background(), "u1", "hr.export", scope.Ref{Level: scope.LevelSite, ID: "S404"})
	require.ErrorIs(t, err, scope.ErrUnknownScope)
}

func TestResolveNoAssignmentsAnywhere(t *testing.T) {
	engine := newTestEngine(testTree(), &stubAssignments{}, &stubOverrides{}, nil)

	_, err := engine.Resolve(context.Background(), "ghost", "hr.export", refP9)
	require.ErrorIs(t, err, ErrNoAssignments)
}

func TestResolveUnscopedDeny(t *testing.T) {
	// The user's only role lives under C2; a query under C1 is a fail-closed
	// deny flagged unscoped.
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "viewer", Capabilities: grants("hr.export"), Scope: refC2},
	}}, &stubOverrides{}, nil)

	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
	require.Equal(t, SourceRoleDefault, decision.Source)
	require.True(t, decision.Unscoped)
	require.Nil(t, decision.MatchedScope)
}

func TestRoleAdditivity(t *testing.T) {
	// A global role granting the key allows even though a narrower site role
	// does not grant it; roles never subtract.
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "admin", Capabilities: grants("hr.export"), Scope: scope.Global},
		{UserID: "u1", RoleID: "clerk", Capabilities: grants("permits.approve"), Scope: refS4},
	}}, &stubOverrides{}, nil)

	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)
	require.Equal(t, SourceRoleDefault, decision.Source)
	require.False(t, decision.Unscoped)
}

func TestSpecificityBeatsPolarity(t *testing.T) {
	now := time.Now()
	assignments := &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}
	overrides := &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Deny, Scope: refC1, CreatedAt: now},
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Allow, Scope: refP9, CreatedAt: now},
	}}
	engine := newTestEngine(testTree(), assignments, overrides, nil)

	// At P9 the project-level allow wins over the client-level deny.
	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)
	require.Equal(t, SourceOverride, decision.Source)
	require.NotNil(t, decision.MatchedScope)
	require.True(t, decision.MatchedScope.Equal(refP9))

	// At C1 the client-level deny applies.
	decision, err = engine.Resolve(context.Background(), "u1", "hr.export", refC1)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
	require.Equal(t, SourceOverride, decision.Source)
	require.True(t, decision.MatchedScope.Equal(refC1))

	// At sibling project P10 the project override must not leak; the client
	// deny still matches.
	decision, err = engine.Resolve(context.Background(), "u1", "hr.export", refPX)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
	require.Equal(t, SourceOverride, decision.Source)
	require.True(t, decision.MatchedScope.Equal(refC1))
}

func TestMoreSpecificDenyBeatsBroaderAllow(t *testing.T) {
	now := time.Now()
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Allow, Scope: scope.Global, CreatedAt: now},
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Deny, Scope: refS4, CreatedAt: now},
	}}, nil)

	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
	require.True(t, decision.MatchedScope.Equal(refS4))
}

func TestDuplicateOverridesLatestWinsThenDeny(t *testing.T) {
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	assignments := &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}

	// Corrupt data: contradictory duplicates at the same scope. Latest wins.
	engine := newTestEngine(testTree(), assignments, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Deny, Scope: refS4, CreatedAt: older},
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Allow, Scope: refS4, CreatedAt: newer},
	}}, nil)
	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refS4)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)

	// Identical timestamps: deny wins.
	engine = newTestEngine(testTree(), assignments, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Allow, Scope: refS4, CreatedAt: older},
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Deny, Scope: refS4, CreatedAt: older},
	}}, nil)
	decision, err = engine.Resolve(context.Background(), "u1", "hr.export", refS4)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
}

func TestSpecScenarioInspectorExport(t *testing.T) {
	// Inspector with a global hr.export grant, denied for client C1.
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "U", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{overrides: []Override{
		{UserID: "U", CapabilityKey: "hr.export", Decision: Deny, Scope: refC1, CreatedAt: time.Now()},
	}}, nil)

	decision, err := engine.Resolve(context.Background(), "U", "hr.export", refS9)
	require.NoError(t, err)
	require.Equal(t, Deny, decision.Result)
	require.Equal(t, SourceOverride, decision.Source)
	require.True(t, decision.MatchedScope.Equal(refC1))

	decision, err = engine.Resolve(context.Background(), "U", "hr.export", refC2)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)
	require.Equal(t, SourceRoleDefault, decision.Source)
	require.Nil(t, decision.MatchedScope)
}

func TestResolveIdempotent(t *testing.T) {
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "hr.export", Decision: Deny, Scope: refC1, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}}, nil)

	first, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	second, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.NoError(t, err)
	require.Equal(t, first.Result, second.Result)
	require.Equal(t, first.Source, second.Source)
	require.Equal(t, first.MatchedScope, second.MatchedScope)
}

func TestStoreFailureIsNeverADeny(t *testing.T) {
	boom := errors.New("connection refused")
	engine := newTestEngine(testTree(), &stubAssignments{err: boom}, &stubOverrides{}, nil)

	_, err := engine.Resolve(context.Background(), "u1", "hr.export", refP9)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrNoAssignments)
}

func TestDangerousGrantAtGlobalFlagsIntegrity(t *testing.T) {
	// Stored data violating the write-side guard: dangerous capability
	// granted globally. The decision stands but carries an integrity note
	// for the audit trail.
	emitter := &stubEmitter{}
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "superuser", Capabilities: grants("incidents.close"), Scope: scope.Global},
	}}, &stubOverrides{}, emitter)

	decision, err := engine.Resolve(context.Background(), "u1", "incidents.close", refS4)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)
	require.True(t, decision.Dangerous)
	require.NotEmpty(t, decision.IntegrityNote)
	require.Len(t, emitter.records, 1)
	require.Equal(t, decision.IntegrityNote, emitter.records[0].Decision.IntegrityNote)
}

func TestResolveAllSharesOnePathComputation(t *testing.T) {
	scopes := testTree()
	emitter := &stubEmitter{}
	engine := newTestEngine(scopes, &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export", "permits.approve"), Scope: scope.Global},
	}}, &stubOverrides{overrides: []Override{
		{UserID: "u1", CapabilityKey: "permits.approve", Decision: Deny, Scope: refS4, CreatedAt: time.Now()},
	}}, emitter)

	decisions, err := engine.ResolveAll(context.Background(), "u1", refP9)
	require.NoError(t, err)
	require.Len(t, decisions, 5)
	require.Equal(t, 1, scopes.calls)
	require.Len(t, emitter.records, 5)

	byKey := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		byKey[d.CapabilityKey] = d
	}
	require.Equal(t, Allow, byKey["hr.export"].Result)
	require.Equal(t, Deny, byKey["permits.approve"].Result)
	require.Equal(t, SourceOverride, byKey["permits.approve"].Source)
	require.Equal(t, Deny, byKey["inventory.adjust"].Result)
}

func TestEmitFailureDoesNotFailResolve(t *testing.T) {
	emitter := &stubEmitter{err: errors.New("queue full")}
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{}, emitter)

	decision, err := engine.Resolve(context.Background(), "u1", "hr.export", refS4)
	require.NoError(t, err)
	require.Equal(t, Allow, decision.Result)
}

func TestEmitCarriesActor(t *testing.T) {
	emitter := &stubEmitter{}
	engine := newTestEngine(testTree(), &stubAssignments{assignments: []RoleAssignment{
		{UserID: "u1", RoleID: "inspector", Capabilities: grants("hr.export"), Scope: scope.Global},
	}}, &stubOverrides{}, emitter)

	ctx := shared.ContextWithActor(context.Background(), "svc-permits")
	_, err := engine.Resolve(ctx, "u1", "hr.export", refS4)
	require.NoError(t, err)
	require.Len(t, emitter.records, 1)
	require.Equal(t, "svc-permits", emitter.records[0].RequestedBy)
	require.Equal(t, "u1", emitter.records[0].UserID)
	require.False(t, emitter.records[0].At.IsZero())
}
