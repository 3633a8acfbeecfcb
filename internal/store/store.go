package store

import (
	"context"

	"github.com/hyperengineering/inspecta/internal/types"
)

// Store defines the contract for the durable local checklist state: the
// checklist_instances and checklist_responses tables, the sync queue, and
// the template cache.
type Store interface {
	InstanceStore
	QueueStore
	TemplateStore
	Snapshot(ctx context.Context, destPath string) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// InstanceStore persists instance and response snapshots.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *types.Instance) error
	GetInstance(ctx context.Context, localID string) (*types.Instance, error)
	GetInstanceByOrder(ctx context.Context, orderID int64) (*types.Instance, error)
	SaveResponse(ctx context.Context, instanceKey string, resp types.ItemResponse) error
	GetResponse(ctx context.Context, instanceKey string, itemID int64) (*types.ItemResponse, error)
	DeleteResponse(ctx context.Context, instanceKey string, itemID int64) error
	SetResponseRemoteID(ctx context.Context, instanceKey string, itemID, remoteID int64) error
	UpdatePhoto(ctx context.Context, instanceKey string, itemID int64, photo types.Photo) error
}

// QueueStore persists pending remote writes.
type QueueStore interface {
	Enqueue(ctx context.Context, w types.PendingWrite) (*types.PendingWrite, error)
	ListPending(ctx context.Context) ([]types.PendingWrite, error)
	CountPending(ctx context.Context, instanceKey string) (int, error)
	AckPending(ctx context.Context, id int64, revision int) (bool, error)
	FailPending(ctx context.Context, id int64, reason string) error
	DiscardPending(ctx context.Context, id int64) error
}

// TemplateStore caches fetched templates durably.
type TemplateStore interface {
	CacheTemplate(ctx context.Context, tmpl *types.Template) error
	GetTemplate(ctx context.Context, id int64) (*types.Template, error)
	GetTemplateByService(ctx context.Context, serviceID int64) (*types.Template, error)
}

// Stats holds aggregate local store statistics.
type Stats struct {
	Instances    int64 `json:"instances"`
	Responses    int64 `json:"responses"`
	PendingSync  int64 `json:"pendingSync"`
	Templates    int64 `json:"cachedTemplates"`
	DatabaseSize int64 `json:"databaseSize"`
}
