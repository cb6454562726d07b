package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vantage-ehs/vantage/internal/catalog"
)

// ErrNotFound indicates that the requested template does not exist.
var ErrNotFound = errors.New("roles: not found")

// ErrUnknownCapability indicates a template referenced a capability key that
// is not in the catalog or is deprecated.
var ErrUnknownCapability = errors.New("roles: unknown capability")

// Store is the persistence contract the service depends on.
type Store interface {
	ListTemplates(ctx context.Context) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	CreateTemplate(ctx context.Context, name, description string, capabilities []string) (Template, error)
	ReplaceTemplate(ctx context.Context, id, name, description string, capabilities []string) (Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// Service orchestrates role template administration.
type Service struct {
	store   Store
	catalog catalog.Store
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, cat catalog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, catalog: cat, logger: logger}
}

// ListTemplates returns all templates ordered by name.
func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.store.ListTemplates(ctx)
}

// GetTemplate fetches a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// CreateTemplate validates and inserts a new template.
func (s *Service) CreateTemplate(ctx context.Context, name, description string, capabilities []string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, errors.New("roles: template name required")
	}
	keys, err := s.checkCapabilities(ctx, capabilities)
	if err != nil {
		return Template{}, err
	}
	created, err := s.store.CreateTemplate(ctx, name, strings.TrimSpace(description), keys)
	if err != nil {
		return Template{}, err
	}
	s.logger.Info("role template created",
		slog.String("role_id", created.ID),
		slog.String("name", created.Name),
		slog.Int("capabilities", len(keys)))
	return created, nil
}

// UpdateTemplate validates and replaces an existing template. The capability
// set is replaced wholesale; existing assignments keep the snapshot taken
// when the role was assigned and only pick up the new set on reassignment.
func (s *Service) UpdateTemplate(ctx context.Context, id, name, description string, capabilities []string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, errors.New("roles: template name required")
	}
	keys, err := s.checkCapabilities(ctx, capabilities)
	if err != nil {
		return Template{}, err
	}
	updated, err := s.store.ReplaceTemplate(ctx, id, name, strings.TrimSpace(description), keys)
	if err != nil {
		return Template{}, err
	}
	s.logger.Info("role template replaced",
		slog.String("role_id", updated.ID),
		slog.String("name", updated.Name),
		slog.Int("capabilities", len(keys)))
	return updated, nil
}

// DeleteTemplate removes a template by ID.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role template deleted", slog.String("role_id", id))
	return nil
}

// checkCapabilities verifies every key exists in the catalog and is not
// deprecated, deduplicating along the way.
func (s *Service) checkCapabilities(ctx context.Context, keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		capability, err := s.catalog.Get(ctx, key)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, key)
			}
			return nil, fmt.Errorf("roles: check capability: %w", err)
		}
		if capability.Deprecated {
			return nil, fmt.Errorf("%w: %s is deprecated", ErrUnknownCapability, key)
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}
