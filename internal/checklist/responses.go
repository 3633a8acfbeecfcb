package checklist

import (
	"context"
	"errors"

	"github.com/hyperengineering/inspecta/internal/media"
	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/types"
	"github.com/hyperengineering/inspecta/internal/validation"
)

// ResponseData is the caller-supplied part of an item response.
type ResponseData struct {
	Completed bool         `json:"completed"`
	Answer    types.Answer `json:"answer"`
}

// SaveResponse records the answer for an item. The local write happens
// first and the call succeeds even when the remote API is unreachable; the
// write then stays queued and the instance is marked pendingSync. Only an
// explicit server rejection undoes the local write and is returned.
func (o *Orchestrator) SaveResponse(ctx context.Context, itemID int64, data ResponseData) (*State, error) {
	const op = "saveResponse"
	inst, tmpl, item, err := o.editable(op, itemID)
	if err != nil {
		return nil, err
	}
	if errs := validation.ValidateAnswer(item, data.Answer); len(errs) > 0 {
		return nil, &Error{Op: op, Kind: ErrValidation, Message: validation.Errors(errs).Error()}
	}

	prev, hadPending, err := o.previous(ctx, op, inst.LocalID, itemID)
	if err != nil {
		return nil, err
	}

	answeredAt := o.now().UTC()
	resp := types.ItemResponse{
		ItemTemplateID: itemID,
		Completed:      data.Completed,
		Answer:         data.Answer,
		AnsweredAt:     &answeredAt,
	}
	if prev != nil {
		resp.ID = prev.ID
		resp.Photos = prev.Photos
	}

	if err := o.store.SaveResponse(ctx, inst.LocalID, resp); err != nil {
		return nil, localErr(op, err)
	}
	w, err := o.syncer.EnqueueResponse(ctx, inst.LocalID, resp)
	if err != nil {
		return nil, errors.Join(localErr(op, err), o.restore(ctx, inst.LocalID, itemID, prev, false))
	}

	optimistic := withResponse(inst, resp, tmpl)
	optimistic.PendingSync = true
	o.commit(inst.LocalID, &optimistic)

	if _, err := o.syncer.Push(ctx, *w); err != nil {
		if remote.IsRejected(err) {
			if rErr := o.restore(ctx, inst.LocalID, itemID, prev, hadPending); rErr != nil {
				o.logger.Error("failed to revert rejected response",
					"component", "checklist", "action", op, "item_id", itemID, "error", rErr)
			}
			if _, rlErr := o.reload(ctx, op, inst.LocalID, tmpl); rlErr != nil {
				o.logger.Error("failed to reload after rejection",
					"component", "checklist", "action", op, "error", rlErr)
			}
			return nil, classify(op, err)
		}
		o.logger.Info("response queued for later delivery",
			"component", "checklist",
			"action", op,
			"local_id", inst.LocalID,
			"item_id", itemID,
			"error", err,
		)
	}
	return o.reload(ctx, op, inst.LocalID, tmpl)
}

// editable returns the current instance, its template and the item, or the
// reason none of them may be edited.
func (o *Orchestrator) editable(op string, itemID int64) (types.Instance, *types.Template, types.Item, error) {
	inst, tmpl, err := o.current(op)
	if err != nil {
		return inst, nil, types.Item{}, err
	}
	if inst.State.Terminal() {
		return inst, nil, types.Item{}, validationErr(op, "checklist is %s", inst.State)
	}
	if tmpl == nil {
		return inst, nil, types.Item{}, &Error{Op: op, Kind: ErrTemplateMissing, Message: "template is not available"}
	}
	item, ok := tmpl.Item(itemID)
	if !ok {
		return inst, nil, types.Item{}, validationErr(op, "item %d is not part of template %d", itemID, tmpl.ID)
	}
	return inst, tmpl, item, nil
}

// previous loads the stored response for an item (nil when unanswered) and
// whether a write for the item is already queued.
func (o *Orchestrator) previous(ctx context.Context, op, localID string, itemID int64) (*types.ItemResponse, bool, error) {
	prev, err := o.store.GetResponse(ctx, localID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, false, localErr(op, err)
	}
	pending, err := o.syncer.PendingItems(ctx, localID)
	if err != nil {
		return nil, false, localErr(op, err)
	}
	return prev, pending[itemID], nil
}

// restore puts back the response that existed before a failed write. When
// that response was itself waiting for delivery it is queued again, since
// the failed write replaced its queue entry.
func (o *Orchestrator) restore(ctx context.Context, localID string, itemID int64, prev *types.ItemResponse, requeue bool) error {
	if prev == nil {
		err := o.store.DeleteResponse(ctx, localID, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := o.store.SaveResponse(ctx, localID, *prev); err != nil {
		return err
	}
	if requeue {
		_, err := o.syncer.EnqueueResponse(ctx, localID, *prev)
		return err
	}
	return nil
}

// AttachPhoto adds a captured photo to an item's response and queues its
// upload. The photo keeps its local URI until the upload is acknowledged,
// when the remote identifier replaces it. An item without a response gets
// an incomplete one to carry the photo.
func (o *Orchestrator) AttachPhoto(ctx context.Context, itemID int64, ref media.Ref, description string) (*State, error) {
	const op = "attachPhoto"
	inst, tmpl, _, err := o.editable(op, itemID)
	if err != nil {
		return nil, err
	}
	if ref.URI == "" {
		return nil, validationErr(op, "photo reference is empty")
	}
	if errs := validation.ValidateDescription(description); len(errs) > 0 {
		return nil, &Error{Op: op, Kind: ErrValidation, Message: validation.Errors(errs).Error()}
	}

	prev, _, err := o.previous(ctx, op, inst.LocalID, itemID)
	if err != nil {
		return nil, err
	}
	resp := types.ItemResponse{ItemTemplateID: itemID}
	if prev != nil {
		resp = *prev
		resp.Photos = append([]types.Photo(nil), prev.Photos...)
	}
	photo := types.Photo{
		ImageRef:    ref.URI,
		Description: description,
		Order:       nextPhotoOrder(resp.Photos),
	}
	resp.Photos = append(resp.Photos, photo)

	if err := o.store.SaveResponse(ctx, inst.LocalID, resp); err != nil {
		return nil, localErr(op, err)
	}

	var writes []types.PendingWrite
	if prev == nil || prev.ID <= 0 {
		w, err := o.syncer.EnqueueResponse(ctx, inst.LocalID, resp)
		if err != nil {
			return nil, localErr(op, err)
		}
		writes = append(writes, *w)
	}
	w, err := o.syncer.EnqueuePhoto(ctx, inst.LocalID, itemID, photo, ref.MimeType)
	if err != nil {
		return nil, localErr(op, err)
	}
	writes = append(writes, *w)

	optimistic := withResponse(inst, resp, tmpl)
	optimistic.PendingSync = true
	o.commit(inst.LocalID, &optimistic)

	for _, w := range writes {
		_, err := o.syncer.Push(ctx, w)
		if err == nil {
			continue
		}
		if remote.IsRejected(err) || errors.Is(err, media.ErrUnavailable) {
			undo := func() error { return o.dropPhoto(ctx, inst.LocalID, itemID, photo.Order) }
			if w.Kind == types.WriteSaveResponse {
				undo = func() error { return o.restore(ctx, inst.LocalID, itemID, prev, false) }
			}
			if dErr := undo(); dErr != nil {
				o.logger.Error("failed to revert rejected photo",
					"component", "checklist", "action", op, "item_id", itemID, "error", dErr)
			}
			if _, rlErr := o.reload(ctx, op, inst.LocalID, tmpl); rlErr != nil {
				o.logger.Error("failed to reload after rejection",
					"component", "checklist", "action", op, "error", rlErr)
			}
			return nil, classify(op, err)
		}
		o.logger.Info("photo queued for later delivery",
			"component", "checklist",
			"action", op,
			"local_id", inst.LocalID,
			"item_id", itemID,
			"kind", string(w.Kind),
			"error", err,
		)
		// Later writes depend on this one.
		break
	}
	return o.reload(ctx, op, inst.LocalID, tmpl)
}

// dropPhoto removes a photo that could not be delivered from the stored
// response.
func (o *Orchestrator) dropPhoto(ctx context.Context, localID string, itemID int64, order int) error {
	resp, err := o.store.GetResponse(ctx, localID, itemID)
	if err != nil {
		return err
	}
	kept := resp.Photos[:0]
	for _, p := range resp.Photos {
		if p.Order != order {
			kept = append(kept, p)
		}
	}
	resp.Photos = kept
	return o.store.SaveResponse(ctx, localID, *resp)
}

// UploadPhoto uploads a photo for an item whose response already exists
// remotely and attaches the returned record. On failure the response is
// left exactly as it was.
func (o *Orchestrator) UploadPhoto(ctx context.Context, itemID int64, ref media.Ref, description string) (*types.Photo, *State, error) {
	const op = "uploadPhoto"
	inst, tmpl, _, err := o.editable(op, itemID)
	if err != nil {
		return nil, nil, err
	}
	if errs := validation.ValidateDescription(description); len(errs) > 0 {
		return nil, nil, &Error{Op: op, Kind: ErrValidation, Message: validation.Errors(errs).Error()}
	}

	resp, err := o.store.GetResponse(ctx, inst.LocalID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, validationErr(op, "item %d has no response to attach a photo to", itemID)
	}
	if err != nil {
		return nil, nil, localErr(op, err)
	}
	if resp.ID <= 0 {
		return nil, nil, &Error{Op: op, Kind: ErrTransient, Message: "response has not been synced yet"}
	}

	photo, err := o.photos.UploadPhoto(ctx, media.PhotoRequest{
		Ref:         ref,
		ResponseID:  resp.ID,
		Description: description,
		Order:       nextPhotoOrder(resp.Photos),
	})
	if err != nil {
		return nil, nil, classify(op, err)
	}

	resp.Photos = append(resp.Photos, *photo)
	if err := o.store.SaveResponse(ctx, inst.LocalID, *resp); err != nil {
		return photo, nil, localErr(op, err)
	}
	st, err := o.reload(ctx, op, inst.LocalID, tmpl)
	return photo, st, err
}

func nextPhotoOrder(photos []types.Photo) int {
	next := 1
	for _, p := range photos {
		if p.Order >= next {
			next = p.Order + 1
		}
	}
	return next
}

// SetSignature stores a technician or client signature blob on the
// instance until finalize.
func (o *Orchestrator) SetSignature(ctx context.Context, role types.SignatureRole, blob string) (*State, error) {
	const op = "setSignature"
	inst, tmpl, err := o.current(op)
	if err != nil {
		return nil, err
	}
	if inst.State.Terminal() {
		return nil, validationErr(op, "checklist is %s", inst.State)
	}
	if err := media.ValidateSignature(blob); err != nil {
		return nil, validationErr(op, "%v", err)
	}

	stored, err := o.store.GetInstance(ctx, inst.LocalID)
	if err != nil {
		return nil, localErr(op, err)
	}
	switch role {
	case types.SignatureTechnician:
		stored.TechnicianSignature = blob
	case types.SignatureClient:
		stored.ClientSignature = blob
	default:
		return nil, validationErr(op, "unknown signature role %q", role)
	}
	if err := o.store.SaveInstance(ctx, stored); err != nil {
		return nil, localErr(op, err)
	}
	return o.reload(ctx, op, inst.LocalID, tmpl)
}
