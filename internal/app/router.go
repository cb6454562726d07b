package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/vantage-ehs/vantage/internal/audit/http"
	authzhttp "github.com/vantage-ehs/vantage/internal/authz/http"
	"github.com/vantage-ehs/vantage/internal/observability"
	"github.com/vantage-ehs/vantage/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Auth         *TokenAuth
	AuthzHandler *authzhttp.Handler
	RolesHandler *roles.Handler
	AuditHandler *audithttp.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Vantage defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Everything below requires an authenticated service caller.
	r.Group(func(gr chi.Router) {
		if params.Auth != nil {
			gr.Use(params.Auth.Middleware)
		}
		if params.AuthzHandler != nil {
			params.AuthzHandler.MountRoutes(gr)
		}
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(gr)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(gr)
		}
	})

	return r
}
