package authzhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-ehs/vantage/internal/authz"
	"github.com/vantage-ehs/vantage/internal/platform/httpx"
	"github.com/vantage-ehs/vantage/internal/roles"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

const (
	resolveRateLimit  = 120
	resolveRateWindow = time.Minute
)

// Resolver is the read slice of the engine the handler needs.
type Resolver interface {
	Resolve(ctx context.Context, userID, capabilityKey string, queried scope.Ref) (authz.Decision, error)
	ResolveAll(ctx context.Context, userID string, queried scope.Ref) ([]authz.Decision, error)
}

// AdminService is the write slice behind assignment and override endpoints.
type AdminService interface {
	ValidateAssignment(ctx context.Context, assignment authz.RoleAssignment) error
	AssignRole(ctx context.Context, assignment authz.RoleAssignment) error
	RevokeRole(ctx context.Context, userID, roleID string, ref scope.Ref) error
	ValidateOverride(ctx context.Context, override authz.Override) error
	CreateOverride(ctx context.Context, override authz.Override) error
	PutOverride(ctx context.Context, override authz.Override) error
	RemoveOverride(ctx context.Context, userID, capabilityKey string, ref scope.Ref) error
}

// RoleTemplates resolves a role template so an assignment can carry the
// template's capability set.
type RoleTemplates interface {
	GetTemplate(ctx context.Context, id string) (roles.Template, error)
}

// Handler exposes decision resolution and grant administration over HTTP.
type Handler struct {
	logger    *slog.Logger
	resolver  Resolver
	admin     AdminService
	templates RoleTemplates
	// guards protect route groups by capability key; nil entries mean open.
	resolveGuard  func(http.Handler) http.Handler
	assignGuard   func(http.Handler) http.Handler
	overrideGuard func(http.Handler) http.Handler
	validate      *validator.Validate
	now           func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver Resolver, admin AdminService, templates RoleTemplates, resolveGuard, assignGuard, overrideGuard func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:        logger,
		resolver:      resolver,
		admin:         admin,
		templates:     templates,
		resolveGuard:  resolveGuard,
		assignGuard:   assignGuard,
		overrideGuard: overrideGuard,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MountRoutes registers resolution and administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(resolveRateLimit, resolveRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		if h.resolveGuard != nil {
			gr.Use(h.resolveGuard)
		}
		gr.Post("/authz/resolve", h.resolve)
		gr.Post("/authz/resolve-all", h.resolveAll)
	})
	r.Group(func(gr chi.Router) {
		if h.assignGuard != nil {
			gr.Use(h.assignGuard)
		}
		gr.Post("/authz/assignments", h.assignRole)
		gr.Post("/authz/assignments/validate", h.validateAssignment)
		gr.Delete("/authz/assignments", h.revokeRole)
	})
	r.Group(func(gr chi.Router) {
		if h.overrideGuard != nil {
			gr.Use(h.overrideGuard)
		}
		gr.Post("/authz/overrides", h.createOverride)
		gr.Put("/authz/overrides", h.putOverride)
		gr.Post("/authz/overrides/validate", h.validateOverride)
		gr.Delete("/authz/overrides", h.removeOverride)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != "" {
		return "actor:" + actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type resolveRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Capability string `json:"capability" validate:"required"`
	Scope      string `json:"scope" validate:"required"`
}

type resolveAllRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Scope  string `json:"scope" validate:"required"`
}

type decisionResponse struct {
	Capability    string `json:"capability"`
	QueriedScope  string `json:"queried_scope"`
	Result        string `json:"result"`
	Source        string `json:"source"`
	MatchedScope  string `json:"matched_scope,omitempty"`
	Dangerous     bool   `json:"dangerous,omitempty"`
	Unscoped      bool   `json:"unscoped,omitempty"`
	IntegrityNote string `json:"integrity_note,omitempty"`
}

func toDecisionResponse(d authz.Decision) decisionResponse {
	out := decisionResponse{
		Capability:    d.CapabilityKey,
		QueriedScope:  d.QueriedScope.String(),
		Result:        string(d.Result),
		Source:        string(d.Source),
		Dangerous:     d.Dangerous,
		Unscoped:      d.Unscoped,
		IntegrityNote: d.IntegrityNote,
	}
	if d.MatchedScope != nil {
		out.MatchedScope = d.MatchedScope.String()
	}
	return out
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := scope.ParseRef(req.Scope)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.resolver.Resolve(r.Context(), req.UserID, req.Capability, ref)
	if err != nil {
		h.respondError(w, err, "resolve")
		return
	}
	httpx.JSON(w, http.StatusOK, toDecisionResponse(decision))
}

func (h *Handler) resolveAll(w http.ResponseWriter, r *http.Request) {
	var req resolveAllRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := scope.ParseRef(req.Scope)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decisions, err := h.resolver.ResolveAll(r.Context(), req.UserID, ref)
	if err != nil {
		h.respondError(w, err, "resolve all")
		return
	}
	out := make([]decisionResponse, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": out})
}

type assignmentRequest struct {
	UserID string `json:"user_id" validate:"required"`
	RoleID string `json:"role_id" validate:"required"`
	Scope  string `json:"scope" validate:"required"`
}

// buildAssignment expands the role template into the capability set the
// assignment will grant.
func (h *Handler) buildAssignment(ctx context.Context, req assignmentRequest) (authz.RoleAssignment, error) {
	ref, err := scope.ParseRef(req.Scope)
	if err != nil {
		return authz.RoleAssignment{}, err
	}
	template, err := h.templates.GetTemplate(ctx, req.RoleID)
	if err != nil {
		return authz.RoleAssignment{}, err
	}
	capabilities := make(map[string]struct{}, len(template.Capabilities))
	for _, key := range template.Capabilities {
		capabilities[key] = struct{}{}
	}
	return authz.RoleAssignment{
		UserID:       req.UserID,
		RoleID:       template.ID,
		Capabilities: capabilities,
		Scope:        ref,
		CreatedAt:    h.now(),
	}, nil
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	assignment, err := h.buildAssignment(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "assign role")
		return
	}
	if err := h.admin.AssignRole(r.Context(), assignment); err != nil {
		h.respondError(w, err, "assign role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	assignment, err := h.buildAssignment(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "validate assignment")
		return
	}
	if err := h.admin.ValidateAssignment(r.Context(), assignment); err != nil {
		h.respondError(w, err, "validate assignment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, roleID, rawScope := q.Get("user_id"), q.Get("role_id"), q.Get("scope")
	if userID == "" || roleID == "" || rawScope == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id, role_id and scope are required")
		return
	}
	ref, err := scope.ParseRef(rawScope)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.admin.RevokeRole(r.Context(), userID, roleID, ref); err != nil {
		h.respondError(w, err, "revoke role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Capability string `json:"capability" validate:"required"`
	Decision   string `json:"decision" validate:"required,oneof=allow deny"`
	Scope      string `json:"scope" validate:"required"`
}

func (h *Handler) buildOverride(req overrideRequest) (authz.Override, error) {
	ref, err := scope.ParseRef(req.Scope)
	if err != nil {
		return authz.Override{}, err
	}
	effect, _ := authz.ParseEffect(req.Decision)
	return authz.Override{
		UserID:        req.UserID,
		CapabilityKey: req.Capability,
		Decision:      effect,
		Scope:         ref,
		CreatedAt:     h.now(),
	}, nil
}

// createOverride is the insert-only path: an occupied tuple answers 409
// instead of being superseded.
func (h *Handler) createOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	override, err := h.buildOverride(req)
	if err != nil {
		h.respondError(w, err, "create override")
		return
	}
	if err := h.admin.CreateOverride(r.Context(), override); err != nil {
		h.respondError(w, err, "create override")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) putOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	override, err := h.buildOverride(req)
	if err != nil {
		h.respondError(w, err, "put override")
		return
	}
	if err := h.admin.PutOverride(r.Context(), override); err != nil {
		h.respondError(w, err, "put override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	override, err := h.buildOverride(req)
	if err != nil {
		h.respondError(w, err, "validate override")
		return
	}
	if err := h.admin.ValidateOverride(r.Context(), override); err != nil {
		h.respondError(w, err, "validate override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, capability, rawScope := q.Get("user_id"), q.Get("capability"), q.Get("scope")
	if userID == "" || capability == "" || rawScope == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id, capability and scope are required")
		return
	}
	ref, err := scope.ParseRef(rawScope)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.admin.RemoveOverride(r.Context(), userID, capability, ref); err != nil {
		h.respondError(w, err, "remove override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, authz.ErrUnknownCapability):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Capability", err.Error())
	case errors.Is(err, scope.ErrUnknownScope), errors.Is(err, scope.ErrInvalidRef):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrNoAssignments):
		httpx.Problem(w, http.StatusNotFound, "No Assignments", "user has no role assignments")
	case errors.Is(err, authz.ErrDangerousScope):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrDuplicateOverride):
		httpx.Problem(w, http.StatusConflict, "Conflict", "an active override already exists for this capability and scope")
	case errors.Is(err, roles.ErrNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "role template does not exist")
	case errors.Is(err, authz.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, authz.ErrStoreUnavailable):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
