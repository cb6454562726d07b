package rbac

import (
	"context"
	"errors"
	"net/http"

	"log/slog"

	"github.com/vantage-ehs/vantage/internal/authz"
	"github.com/vantage-ehs/vantage/internal/platform/httpx"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

// ScopeHeader names the request header carrying the scope a protected
// endpoint operates on. Absent means global.
const ScopeHeader = "X-Vantage-Scope"

// Resolver is the slice of the engine the middleware needs.
type Resolver interface {
	Resolve(ctx context.Context, userID, capabilityKey string, queried scope.Ref) (authz.Decision, error)
}

// Middleware wires capability authorization for HTTP handlers. The actor
// authenticated on the request is resolved against the engine at the scope
// the request targets.
type Middleware struct {
	Engine Resolver
	Logger *slog.Logger
}

// RequireCapability ensures the current actor holds the capability at the
// request's scope. A deny is a 403; an inability to decide is never.
func (m Middleware) RequireCapability(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			ref, err := RequestScope(r)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
				return
			}
			decision, err := m.Engine.Resolve(r.Context(), actor, key, ref)
			if err != nil {
				m.respondError(w, r, key, err)
				return
			}
			if decision.Result != authz.Allow {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestScope extracts the target scope from the request header.
func RequestScope(r *http.Request) (scope.Ref, error) {
	raw := r.Header.Get(ScopeHeader)
	if raw == "" {
		return scope.Global, nil
	}
	return scope.ParseRef(raw)
}

func (m Middleware) respondError(w http.ResponseWriter, r *http.Request, key string, err error) {
	switch {
	case errors.Is(err, authz.ErrNoAssignments):
		// Unprovisioned caller; denied but logged louder than a plain deny.
		if m.Logger != nil {
			m.Logger.Warn("actor without assignments", slog.String("path", r.URL.Path), slog.String("capability", key))
		}
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, scope.ErrUnknownScope), errors.Is(err, scope.ErrInvalidRef):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrStoreUnavailable):
		if m.Logger != nil {
			m.Logger.Error("authorization store unavailable", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		if m.Logger != nil {
			m.Logger.Error("authorization check failed", slog.String("capability", key), slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
