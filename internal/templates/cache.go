// Package templates is the read-only checklist template store: a cache in
// front of the remote template endpoints.
package templates

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/types"
)

// ErrMiss is returned by a Cache that does not hold the requested template.
var ErrMiss = errors.New("template not cached")

// Cache holds fetched templates. Templates are immutable once fetched, so
// entries are never updated in place, only replaced by a newer fetch.
type Cache interface {
	Get(ctx context.Context, id int64) (*types.Template, error)
	GetByService(ctx context.Context, serviceID int64) (*types.Template, error)
	Put(ctx context.Context, tmpl *types.Template) error
}

// MemoryCache is a process-lifetime cache.
type MemoryCache struct {
	mu        sync.RWMutex
	byID      map[int64]*types.Template
	byService map[int64]int64
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		byID:      make(map[int64]*types.Template),
		byService: make(map[int64]int64),
	}
}

func (c *MemoryCache) Get(_ context.Context, id int64) (*types.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.byID[id]
	if !ok {
		return nil, ErrMiss
	}
	return tmpl, nil
}

func (c *MemoryCache) GetByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	c.mu.RLock()
	id, ok := c.byService[serviceID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	return c.Get(ctx, id)
}

func (c *MemoryCache) Put(_ context.Context, tmpl *types.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[tmpl.ID] = tmpl
	if tmpl.ServiceID > 0 {
		c.byService[tmpl.ServiceID] = tmpl.ID
	}
	return nil
}

// StoreCache adapts the local SQLite store so templates survive restarts
// and remain available for offline resolution.
type StoreCache struct {
	store store.TemplateStore
}

// NewStoreCache wraps a template store.
func NewStoreCache(s store.TemplateStore) *StoreCache {
	return &StoreCache{store: s}
}

func (c *StoreCache) Get(ctx context.Context, id int64) (*types.Template, error) {
	return missOnNotFound(c.store.GetTemplate(ctx, id))
}

func (c *StoreCache) GetByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	return missOnNotFound(c.store.GetTemplateByService(ctx, serviceID))
}

func (c *StoreCache) Put(ctx context.Context, tmpl *types.Template) error {
	return c.store.CacheTemplate(ctx, tmpl)
}

func missOnNotFound(tmpl *types.Template, err error) (*types.Template, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMiss
	}
	return tmpl, err
}
