package checklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperengineering/inspecta/internal/progress"
	"github.com/hyperengineering/inspecta/internal/types"
)

// Start moves a PENDING checklist to IN_PROGRESS.
func (o *Orchestrator) Start(ctx context.Context) (*State, error) {
	return o.transition(ctx, ActionStart, o.remote.StartInstance)
}

// Pause moves an IN_PROGRESS checklist to PAUSED.
func (o *Orchestrator) Pause(ctx context.Context) (*State, error) {
	return o.transition(ctx, ActionPause, o.remote.PauseInstance)
}

// Resume moves a PAUSED checklist back to IN_PROGRESS.
func (o *Orchestrator) Resume(ctx context.Context) (*State, error) {
	return o.transition(ctx, ActionResume, o.remote.ResumeInstance)
}

// transition validates the action locally, asks the remote API to apply it
// and replaces the instance with the server's. Any failure leaves the
// current state untouched.
func (o *Orchestrator) transition(ctx context.Context, action Action, call func(context.Context, int64) (*types.Instance, error)) (*State, error) {
	op := string(action)
	inst, tmpl, err := o.current(op)
	if err != nil {
		return nil, err
	}
	if _, err := Next(inst.State, action); err != nil {
		return nil, err
	}

	remoteInst, err := o.ensureRemote(ctx, op, inst)
	if err != nil {
		return nil, err
	}

	updated, err := call(ctx, remoteInst.ID)
	if err != nil {
		return nil, classify(op, err)
	}
	if updated == nil || updated.ID <= 0 {
		return nil, &Error{Op: op, Kind: ErrIntegrity, Message: "server returned an instance without a valid id"}
	}
	if updated.OrderID == 0 {
		updated.OrderID = remoteInst.OrderID
	}

	merged, err := o.syncer.Reconcile(ctx, remoteInst, updated)
	if err != nil {
		return nil, localErr(op, err)
	}
	o.logger.Info("checklist transitioned",
		"component", "checklist",
		"action", op,
		"instance_id", merged.ID,
		"from", string(inst.State),
		"to", string(merged.State),
	)
	next := withProgress(*merged, tmpl)
	return o.commit(inst.LocalID, &next), nil
}

// ensureRemote returns the stored copy of inst, flushing the queue first
// when the instance has not been created remotely yet.
func (o *Orchestrator) ensureRemote(ctx context.Context, op string, inst types.Instance) (*types.Instance, error) {
	if !inst.Remote() {
		o.flush(ctx, op)
	}
	stored, err := o.store.GetInstance(ctx, inst.LocalID)
	if err != nil {
		return nil, localErr(op, err)
	}
	if !stored.Remote() {
		return nil, &Error{Op: op, Kind: ErrTransient, Message: "checklist has not been created remotely yet"}
	}
	return stored, nil
}

// Finalize closes the checklist. The local gate is checked before any
// network call; queued writes are flushed, then the final snapshot with
// signatures and elapsed time is sent. On success the server's instance
// replaces the local one and the state becomes COMPLETED. On failure
// nothing changes.
func (o *Orchestrator) Finalize(ctx context.Context, notes string) (*State, error) {
	const op = "finalize"
	inst, tmpl, err := o.current(op)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, &Error{Op: op, Kind: ErrTemplateMissing, Message: "template is not available"}
	}
	if ev := progress.Evaluate(inst.State, inst.Responses, tmpl); !ev.CanFinalize {
		return nil, validationErr(op, "cannot finalize: %s", strings.Join(ev.Blockers, "; "))
	}
	if _, err := Next(inst.State, ActionFinalize); err != nil {
		return nil, err
	}

	o.flush(ctx, op)
	stored, err := o.ensureRemote(ctx, op, inst)
	if err != nil {
		return nil, err
	}

	completedAt := o.now().UTC()
	data := types.FinalizationData{
		Responses:           stored.Clone().Responses,
		TechnicianSignature: stored.TechnicianSignature,
		ClientSignature:     stored.ClientSignature,
		StartedAt:           stored.StartedAt,
		CompletedAt:         completedAt,
		ElapsedMinutes:      elapsedMinutes(stored.StartedAt, completedAt),
		Notes:               notes,
	}

	res, err := o.remote.FinalizeInstance(ctx, stored.ID, data)
	if err != nil {
		return nil, classify(op, err)
	}
	if res == nil || res.Instance.ID <= 0 {
		return nil, &Error{Op: op, Kind: ErrIntegrity, Message: "server returned an instance without a valid id"}
	}
	if res.Instance.OrderID == 0 {
		res.Instance.OrderID = stored.OrderID
	}

	merged, err := o.syncer.Reconcile(ctx, stored, &res.Instance)
	if err != nil {
		return nil, localErr(op, err)
	}
	totalMinutes := res.TotalMinutes
	if totalMinutes == nil {
		totalMinutes = res.Instance.TotalMinutes
	}
	final := completed(*merged, completedAt, totalMinutes)
	if err := o.store.SaveInstance(ctx, &final); err != nil {
		return nil, localErr(op, fmt.Errorf("record completion: %w", err))
	}

	o.logger.Info("checklist finalized",
		"component", "checklist",
		"action", op,
		"instance_id", final.ID,
		"order_id", final.OrderID,
		"elapsed_minutes", data.ElapsedMinutes,
	)
	return o.commit(inst.LocalID, &final), nil
}
