package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantage-ehs/vantage/internal/authz"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

type stubResolver struct {
	decisions map[string]authz.Decision
	err       error
}

func (s *stubResolver) Resolve(_ context.Context, userID, capabilityKey string, queried scope.Ref) (authz.Decision, error) {
	if s.err != nil {
		return authz.Decision{}, s.err
	}
	decision, ok := s.decisions[userID+"|"+capabilityKey+"|"+queried.String()]
	if !ok {
		return authz.Decision{CapabilityKey: capabilityKey, QueriedScope: queried, Result: authz.Deny, Source: authz.SourceRoleDefault}, nil
	}
	return decision, nil
}

func performRequest(t *testing.T, mw Middleware, actor, scopeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw.RequireCapability("roles.edit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/roles", nil)
	if actor != "" {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	if scopeHeader != "" {
		req.Header.Set(ScopeHeader, scopeHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireCapabilityAllows(t *testing.T) {
	resolver := &stubResolver{decisions: map[string]authz.Decision{
		"admin-1|roles.edit|site:S4": {Result: authz.Allow, Source: authz.SourceRoleDefault},
	}}
	rec := performRequest(t, Middleware{Engine: resolver, Logger: slog.Default()}, "admin-1", "site:S4")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireCapabilityDenies(t *testing.T) {
	rec := performRequest(t, Middleware{Engine: &stubResolver{}, Logger: slog.Default()}, "admin-1", "site:S4")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireCapabilityNoActor(t *testing.T) {
	rec := performRequest(t, Middleware{Engine: &stubResolver{}, Logger: slog.Default()}, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireCapabilityBadScope(t *testing.T) {
	rec := performRequest(t, Middleware{Engine: &stubResolver{}, Logger: slog.Default()}, "admin-1", "warehouse:W1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireCapabilityStoreUnavailableIsNotForbidden(t *testing.T) {
	resolver := &stubResolver{err: authz.ErrStoreUnavailable}
	rec := performRequest(t, Middleware{Engine: resolver, Logger: slog.Default()}, "admin-1", "site:S4")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireCapabilityDefaultsToGlobalScope(t *testing.T) {
	resolver := &stubResolver{decisions: map[string]authz.Decision{
		"admin-1|roles.edit|global": {Result: authz.Allow, Source: authz.SourceRoleDefault},
	}}
	rec := performRequest(t, Middleware{Engine: resolver, Logger: slog.Default()}, "admin-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}
