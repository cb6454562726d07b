package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-ehs/vantage/internal/platform/httpx"
	"github.com/vantage-ehs/vantage/internal/rbac"
	"github.com/vantage-ehs/vantage/internal/shared"
)

// Handler exposes role template administration over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     mw,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers role template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireCapability(shared.CapRolesView))
		gr.Get("/roles", h.listTemplates)
		gr.Get("/roles/{roleID}", h.getTemplate)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireCapability(shared.CapRolesEdit))
		gr.Post("/roles", h.createTemplate)
		gr.Put("/roles/{roleID}", h.updateTemplate)
		gr.Delete("/roles/{roleID}", h.deleteTemplate)
	})
}

type templateRequest struct {
	Name         string   `json:"name" validate:"required,max=120"`
	Description  string   `json:"description" validate:"max=500"`
	Capabilities []string `json:"capabilities" validate:"required,min=1,dive,required"`
}

type templateResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toResponse(t Template) templateResponse {
	caps := t.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return templateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		Capabilities: caps,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		h.logger.Error("list role templates", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondError(w, err, "get role template")
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(template))
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	template, err := h.service.CreateTemplate(r.Context(), req.Name, req.Description, req.Capabilities)
	if err != nil {
		h.respondError(w, err, "create role template")
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(template))
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	template, err := h.service.UpdateTemplate(r.Context(), chi.URLParam(r, "roleID"), req.Name, req.Description, req.Capabilities)
	if err != nil {
		h.respondError(w, err, "update role template")
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(template))
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTemplate(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		h.respondError(w, err, "delete role template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (templateRequest, bool) {
	var req templateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return templateRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return templateRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrUnknownCapability):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
