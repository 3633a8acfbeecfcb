// Package syncengine delivers locally captured checklist writes to the
// remote API.
//
// Every write is first persisted in the sync_queue table, keyed by
// (instance, item, kind) so a newer write for the same key replaces the
// older one. SyncOfflineData walks the queue in FIFO order; entries that
// fail stay queued with their attempt count bumped.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/types"
)

// DefaultMaxAttempts is the attempt count after which an entry is reported stuck.
const DefaultMaxAttempts = 10

var (
	// ErrNotReady means a write depends on something not yet confirmed
	// remotely (the instance or the response has no remote id). The entry
	// stays queued without counting an attempt.
	ErrNotReady = errors.New("sync: dependency not yet synced")

	// ErrIntegrity means the server acknowledged a write with an unusable
	// result, such as a created instance without an id.
	ErrIntegrity = errors.New("sync: invalid server response")

	// errMalformed marks a queue entry whose payload cannot be decoded.
	errMalformed = errors.New("sync: malformed queue entry")
)

// Store is the local persistence the engine needs.
type Store interface {
	store.InstanceStore
	store.QueueStore
}

// Remote is the subset of the remote API used for queued writes.
type Remote interface {
	CreateInstance(ctx context.Context, orderID, templateID int64, opts ...remote.CallOption) (*types.Instance, error)
	SaveResponse(ctx context.Context, instanceID int64, resp types.ItemResponse, opts ...remote.CallOption) (*types.ItemResponse, error)
}

// PhotoUploader uploads queued photos.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, req media.PhotoRequest, opts ...remote.CallOption) (*types.Photo, error)
}

// SyncStats summarizes one SyncOfflineData pass.
type SyncStats struct {
	Attempted int           `json:"attempted"`
	Pushed    int           `json:"pushed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Discarded int           `json:"discarded"`
	Stuck     int           `json:"stuck"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of delivering one write.
type Result struct {
	Write    types.PendingWrite
	Instance *types.Instance
	Response *types.ItemResponse
	Photo    *types.Photo
	// Acked is false when the write was delivered but replaced locally in
	// the meantime; the newer value stays queued.
	Acked bool
}

// Engine owns the sync queue.
type Engine struct {
	store       Store
	remote      Remote
	photos      PhotoUploader
	maxAttempts int

	// passMu allows one SyncOfflineData pass at a time.
	passMu sync.Mutex
}

// New creates an engine. maxAttempts <= 0 uses DefaultMaxAttempts.
func New(s Store, r Remote, photos PhotoUploader, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{store: s, remote: r, photos: photos, maxAttempts: maxAttempts}
}

// MaxAttempts returns the stuck threshold.
func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

type createPayload struct {
	OrderID    int64 `json:"orderId"`
	TemplateID int64 `json:"templateId"`
}

type photoPayload struct {
	ItemTemplateID int64           `json:"itemTemplateId"`
	Order          int             `json:"orderInResponse"`
	URI            string          `json:"uri"`
	MimeType       string          `json:"mimeType,omitempty"`
	Description    string          `json:"description,omitempty"`
	Location       *types.Location `json:"location,omitempty"`
}

// ResponseKey is the queue item key of a saveResponse write.
func ResponseKey(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

// PhotoKey is the queue item key of an uploadPhoto write.
func PhotoKey(itemID int64, order int) string {
	return fmt.Sprintf("%d/photo/%d", itemID, order)
}

// EnqueueCreate queues creation of a locally provisioned instance.
func (e *Engine) EnqueueCreate(ctx context.Context, inst *types.Instance) (*types.PendingWrite, error) {
	return e.enqueue(ctx, types.WriteCreateInstance, inst.LocalID, "",
		createPayload{OrderID: inst.OrderID, TemplateID: inst.TemplateID()})
}

// EnqueueResponse queues a response, replacing any queued value for the same item.
func (e *Engine) EnqueueResponse(ctx context.Context, instanceKey string, resp types.ItemResponse) (*types.PendingWrite, error) {
	resp.Photos = nil
	return e.enqueue(ctx, types.WriteSaveResponse, instanceKey, ResponseKey(resp.ItemTemplateID), resp)
}

// EnqueuePhoto queues upload of a locally captured photo.
func (e *Engine) EnqueuePhoto(ctx context.Context, instanceKey string, itemID int64, photo types.Photo, mimeType string) (*types.PendingWrite, error) {
	return e.enqueue(ctx, types.WriteUploadPhoto, instanceKey, PhotoKey(itemID, photo.Order), photoPayload{
		ItemTemplateID: itemID,
		Order:          photo.Order,
		URI:            photo.ImageRef,
		MimeType:       mimeType,
		Description:    photo.Description,
		Location:       photo.CaptureLocation,
	})
}

func (e *Engine) enqueue(ctx context.Context, kind types.WriteKind, instanceKey, itemKey string, payload any) (*types.PendingWrite, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return e.store.Enqueue(ctx, types.PendingWrite{
		Kind:           kind,
		InstanceKey:    instanceKey,
		ItemKey:        itemKey,
		Payload:        data,
		IdempotencyKey: uuid.NewString(),
	})
}

// Push delivers one queued write and settles its queue entry: acknowledged
// on success, discarded when the server rejects it or it can never be
// delivered, attempt recorded on any other failure. ErrNotReady leaves the
// entry untouched.
func (e *Engine) Push(ctx context.Context, w types.PendingWrite) (*Result, error) {
	res, err := e.deliver(ctx, w)
	if err == nil {
		acked, ackErr := e.store.AckPending(ctx, w.ID, w.Revision)
		if ackErr != nil {
			return res, ackErr
		}
		res.Acked = acked
		return res, nil
	}

	switch {
	case errors.Is(err, ErrNotReady):
	case permanent(err):
		// Revision-guarded so a value queued while this one was in flight survives.
		if _, dErr := e.store.AckPending(ctx, w.ID, w.Revision); dErr != nil {
			return nil, errors.Join(err, dErr)
		}
		slog.Warn("queued write discarded",
			"component", "syncengine",
			"action", "discard",
			"kind", string(w.Kind),
			"instance_key", w.InstanceKey,
			"item_key", w.ItemKey,
			"error", err,
		)
	default:
		if fErr := e.store.FailPending(ctx, w.ID, err.Error()); fErr != nil {
			return nil, errors.Join(err, fErr)
		}
		if w.Attempts+1 >= e.maxAttempts {
			slog.Error("queued write stuck",
				"component", "syncengine",
				"action", "stuck",
				"kind", string(w.Kind),
				"instance_key", w.InstanceKey,
				"item_key", w.ItemKey,
				"attempts", w.Attempts+1,
				"error", err,
			)
		}
	}
	return nil, err
}

// permanent reports failures that retrying cannot fix.
func permanent(err error) bool {
	return remote.IsRejected(err) ||
		errors.Is(err, remote.ErrNotFound) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, media.ErrUnavailable) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, errMalformed)
}

func (e *Engine) deliver(ctx context.Context, w types.PendingWrite) (*Result, error) {
	inst, err := e.store.GetInstance(ctx, w.InstanceKey)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", w.InstanceKey, err)
	}

	switch w.Kind {
	case types.WriteCreateInstance:
		return e.deliverCreate(ctx, w, inst)
	case types.WriteSaveResponse:
		return e.deliverResponse(ctx, w, inst)
	case types.WriteUploadPhoto:
		return e.deliverPhoto(ctx, w, inst)
	default:
		// Unknown kinds come from a newer schema; drop rather than retry forever.
		return nil, fmt.Errorf("unknown write kind %q: %w", w.Kind, errMalformed)
	}
}

func (e *Engine) deliverCreate(ctx context.Context, w types.PendingWrite, inst *types.Instance) (*Result, error) {
	if inst.Remote() {
		return &Result{Write: w, Instance: inst}, nil
	}

	var p createPayload
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode create payload: %w: %v", errMalformed, err)
	}

	created, err := e.remote.CreateInstance(ctx, p.OrderID, p.TemplateID, remote.WithIdempotencyKey(w.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	if created.ID <= 0 {
		return nil, fmt.Errorf("create instance for order %d: %w", p.OrderID, ErrIntegrity)
	}

	inst.ID = created.ID
	if inst.State == types.StatePending && created.State != "" {
		inst.State = created.State
	}
	if inst.StartedAt == nil {
		inst.StartedAt = created.StartedAt
	}
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("record remote instance id: %w", err)
	}
	return &Result{Write: w, Instance: inst}, nil
}

func (e *Engine) deliverResponse(ctx context.Context, w types.PendingWrite, inst *types.Instance) (*Result, error) {
	if !inst.Remote() {
		return nil, ErrNotReady
	}

	var resp types.ItemResponse
	if err := json.Unmarshal(w.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response payload: %w: %v", errMalformed, err)
	}

	saved, err := e.remote.SaveResponse(ctx, inst.ID, resp, remote.WithIdempotencyKey(w.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	if saved.ID > 0 {
		if err := e.store.SetResponseRemoteID(ctx, inst.LocalID, resp.ItemTemplateID, saved.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("record remote response id: %w", err)
		}
	}
	return &Result{Write: w, Instance: inst, Response: saved}, nil
}

func (e *Engine) deliverPhoto(ctx context.Context, w types.PendingWrite, inst *types.Instance) (*Result, error) {
	if !inst.Remote() {
		return nil, ErrNotReady
	}

	var p photoPayload
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode photo payload: %w: %v", errMalformed, err)
	}

	resp, err := e.store.GetResponse(ctx, inst.LocalID, p.ItemTemplateID)
	if err != nil {
		return nil, fmt.Errorf("load response %d: %w", p.ItemTemplateID, err)
	}
	if resp.ID <= 0 {
		return nil, ErrNotReady
	}

	photo, err := e.photos.UploadPhoto(ctx, media.PhotoRequest{
		Ref:         media.Ref{URI: p.URI, MimeType: p.MimeType},
		ResponseID:  resp.ID,
		Description: p.Description,
		Order:       p.Order,
		Location:    p.Location,
	}, remote.WithIdempotencyKey(w.IdempotencyKey))
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdatePhoto(ctx, inst.LocalID, p.ItemTemplateID, *photo); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("record uploaded photo: %w", err)
	}
	return &Result{Write: w, Instance: inst, Photo: photo}, nil
}
