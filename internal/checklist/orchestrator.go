// Package checklist is the stateful façade over the checklist subsystem.
//
// An Orchestrator owns the current template/instance pair for one order.
// Every mutation is written to the local store first and handed to the sync
// engine for best-effort delivery; the in-memory state is replaced by a new
// value after each operation and never edited in place. Callers get copies
// through Snapshot.
//
// Lifecycle transitions (start, pause, resume, finalize) must not be issued
// concurrently against the same instance. The orchestrator does not
// serialize them.
package checklist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/progress"
	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/syncengine"
	"github.com/hyperengineering/inspecta/internal/types"
)

// Remote is the subset of the remote API the orchestrator calls directly.
// Writes that can be queued go through the Syncer instead.
type Remote interface {
	GetInstanceByOrder(ctx context.Context, orderID int64) (*types.Instance, error)
	GetOrderInfo(ctx context.Context, orderID int64) (*types.OrderInfo, error)
	StartInstance(ctx context.Context, instanceID int64) (*types.Instance, error)
	PauseInstance(ctx context.Context, instanceID int64) (*types.Instance, error)
	ResumeInstance(ctx context.Context, instanceID int64) (*types.Instance, error)
	FinalizeInstance(ctx context.Context, instanceID int64, data types.FinalizationData) (*types.FinalizeResult, error)
}

// Templates resolves checklist templates.
type Templates interface {
	ByID(ctx context.Context, id int64) (*types.Template, error)
	ByService(ctx context.Context, serviceID int64) (*types.Template, error)
	Cached(ctx context.Context, id int64) (*types.Template, error)
	Remember(ctx context.Context, tmpl *types.Template)
}

// Syncer queues and delivers writes.
type Syncer interface {
	EnqueueCreate(ctx context.Context, inst *types.Instance) (*types.PendingWrite, error)
	EnqueueResponse(ctx context.Context, instanceKey string, resp types.ItemResponse) (*types.PendingWrite, error)
	EnqueuePhoto(ctx context.Context, instanceKey string, itemID int64, photo types.Photo, mimeType string) (*types.PendingWrite, error)
	Push(ctx context.Context, w types.PendingWrite) (*syncengine.Result, error)
	SyncOfflineData(ctx context.Context) (*syncengine.SyncStats, error)
	Reconcile(ctx context.Context, local, remote *types.Instance) (*types.Instance, error)
	Pending(ctx context.Context, instanceKey string) (int, error)
	PendingItems(ctx context.Context, instanceKey string) (map[int64]bool, error)
}

// PhotoUploader uploads a photo for a response that exists remotely.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, req media.PhotoRequest, opts ...remote.CallOption) (*types.Photo, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Remote    Remote
	Templates Templates
	Store     store.InstanceStore
	Syncer    Syncer
	Photos    PhotoUploader
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// State is a read-only view of the current checklist. Template and
// Instance are both nil when no checklist applies to the order.
type State struct {
	Template        *types.Template `json:"template"`
	Instance        *types.Instance `json:"instance"`
	TotalSteps      int             `json:"totalSteps"`
	CompletedSteps  int             `json:"completedSteps"`
	CanFinalize     bool            `json:"canFinalize"`
	Blockers        []string        `json:"finalizeBlockers,omitempty"`
	TemplateMissing bool            `json:"templateMissing,omitempty"`
}

// Applicable reports whether the order has a checklist.
func (s *State) Applicable() bool {
	return s != nil && s.Instance != nil
}

// Orchestrator drives one checklist at a time.
type Orchestrator struct {
	remote    Remote
	templates Templates
	store     store.InstanceStore
	syncer    Syncer
	photos    PhotoUploader
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	template        *types.Template
	instance        *types.Instance
	templateMissing bool
}

// New creates an orchestrator with no checklist resolved.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		remote:    d.Remote,
		templates: d.Templates,
		store:     d.Store,
		syncer:    d.Syncer,
		photos:    d.Photos,
		logger:    d.Logger,
		now:       d.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Snapshot returns a deep copy of the current state.
func (o *Orchestrator) Snapshot() *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() *State {
	st := &State{TemplateMissing: o.templateMissing}
	if o.template != nil {
		tmpl := *o.template
		tmpl.Items = append([]types.Item(nil), o.template.Items...)
		st.Template = &tmpl
		st.TotalSteps = tmpl.Total()
	}
	if o.instance != nil {
		inst := o.instance.Clone()
		st.Instance = &inst
		st.CompletedSteps = progress.CompletedCount(inst.Responses)
		if st.Template != nil {
			ev := progress.Evaluate(inst.State, inst.Responses, st.Template)
			st.CanFinalize = ev.CanFinalize
			st.Blockers = ev.Blockers
		} else {
			st.Blockers = []string{"template is not available"}
		}
	}
	return st
}

// CanFinalize reports whether Finalize would pass its local gate.
func (o *Orchestrator) CanFinalize() bool {
	return o.Snapshot().CanFinalize
}

// FinalizeBlockers lists the reasons Finalize would be refused.
func (o *Orchestrator) FinalizeBlockers() []string {
	st := o.Snapshot()
	if st.Instance == nil {
		return []string{"no checklist resolved"}
	}
	return st.Blockers
}

// current returns a private copy of the resolved instance and its template.
func (o *Orchestrator) current(op string) (types.Instance, *types.Template, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.instance == nil {
		return types.Instance{}, nil, validationErr(op, "no checklist resolved")
	}
	return o.instance.Clone(), o.template, nil
}

// replace swaps in a new current pair unconditionally.
func (o *Orchestrator) replace(tmpl *types.Template, inst *types.Instance, templateMissing bool) *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.template = tmpl
	o.instance = inst
	o.templateMissing = templateMissing
	return o.snapshotLocked()
}

// commit replaces the current instance if it is still the one identified
// by localID. A concurrent Resolve for another order wins.
func (o *Orchestrator) commit(localID string, inst *types.Instance) *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.instance != nil && o.instance.LocalID == localID {
		o.instance = inst
	}
	return o.snapshotLocked()
}

// reload rebuilds the current instance from the local store and the queue.
func (o *Orchestrator) reload(ctx context.Context, op, localID string, tmpl *types.Template) (*State, error) {
	stored, err := o.store.GetInstance(ctx, localID)
	if err != nil {
		return nil, localErr(op, err)
	}
	n, err := o.syncer.Pending(ctx, localID)
	if err != nil {
		return nil, localErr(op, err)
	}
	stored.PendingSync = n > 0
	next := withProgress(*stored, tmpl)
	return o.commit(localID, &next), nil
}

// flush runs a best-effort sync pass before an online-only operation.
func (o *Orchestrator) flush(ctx context.Context, op string) {
	if _, err := o.syncer.SyncOfflineData(ctx); err != nil {
		o.logger.Warn("sync before operation failed",
			"component", "checklist",
			"action", op,
			"error", err,
		)
	}
}

// SyncOfflineData delivers every queued write and refreshes the current
// instance from the local store afterwards.
func (o *Orchestrator) SyncOfflineData(ctx context.Context) (*syncengine.SyncStats, *State, error) {
	const op = "sync"
	stats, err := o.syncer.SyncOfflineData(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return stats, nil, classify(op, err)
		}
		return stats, nil, localErr(op, err)
	}

	inst, tmpl, cerr := o.current(op)
	if cerr != nil {
		return stats, o.Snapshot(), nil
	}
	st, err := o.reload(ctx, op, inst.LocalID, tmpl)
	if err != nil {
		return stats, nil, err
	}
	return stats, st, nil
}
