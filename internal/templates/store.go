package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/types"
)

// ErrNotFound means no template exists (remotely or in cache) for the
// requested id or service.
var ErrNotFound = errors.New("template not found")

// Fetcher is the remote side of the template store.
type Fetcher interface {
	GetTemplate(ctx context.Context, templateID int64) (*types.Template, error)
	GetTemplateByService(ctx context.Context, serviceID int64) (*types.Template, error)
}

// Store resolves templates through a cache, falling back to the remote API.
type Store struct {
	cache  Cache
	remote Fetcher
	logger *slog.Logger
}

// NewStore creates a template store. A nil cache uses a MemoryCache.
func NewStore(cache Cache, remote Fetcher, logger *slog.Logger) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cache: cache, remote: remote, logger: logger}
}

// ByID returns a template by id. Cached templates are served without a
// network call since templates never change once fetched.
func (s *Store) ByID(ctx context.Context, id int64) (*types.Template, error) {
	if id <= 0 {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if tmpl, err := s.cache.Get(ctx, id); err == nil {
		return tmpl, nil
	} else if !errors.Is(err, ErrMiss) {
		s.logger.Warn("template cache read failed", "component", "templates", "template_id", id, "error", err)
	}

	tmpl, err := s.remote.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	s.put(ctx, tmpl)
	return tmpl, nil
}

// ByService returns the template bound to a service, asking the remote API
// first so a newly bound template is picked up. When the remote call fails
// in transit, the last cached template for the service is used instead.
// ErrNotFound means the service has no checklist.
func (s *Store) ByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	tmpl, err := s.remote.GetTemplateByService(ctx, serviceID)
	if err == nil {
		s.put(ctx, tmpl)
		return tmpl, nil
	}
	if errors.Is(err, remote.ErrNotFound) {
		return nil, fmt.Errorf("service %d: %w", serviceID, ErrNotFound)
	}
	if !remote.IsTransient(err) {
		return nil, err
	}

	cached, cacheErr := s.cache.GetByService(ctx, serviceID)
	if cacheErr != nil {
		return nil, err
	}
	s.logger.Info("serving cached template while offline",
		"component", "templates", "service_id", serviceID, "template_id", cached.ID, "error", err)
	return cached, nil
}

// Cached returns a template from the cache only, never touching the network.
func (s *Store) Cached(ctx context.Context, id int64) (*types.Template, error) {
	tmpl, err := s.cache.Get(ctx, id)
	if errors.Is(err, ErrMiss) {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return tmpl, err
}

// Remember caches a template obtained elsewhere, e.g. embedded in an
// instance payload.
func (s *Store) Remember(ctx context.Context, tmpl *types.Template) {
	if tmpl == nil || tmpl.ID <= 0 {
		return
	}
	s.put(ctx, tmpl)
}

func (s *Store) put(ctx context.Context, tmpl *types.Template) {
	if err := s.cache.Put(ctx, tmpl); err != nil {
		s.logger.Warn("template cache write failed", "component", "templates", "template_id", tmpl.ID, "error", err)
	}
}
