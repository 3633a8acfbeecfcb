package checklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/store"
	"github.com/hyperengineering/inspecta/internal/templates"
	"github.com/hyperengineering/inspecta/internal/types"
)

// Resolve loads the checklist for an order and makes it current.
//
// An existing remote instance is merged with the local copy and its
// template loaded; a template that cannot be loaded yields the adopted
// state together with an ErrTemplateMissing error. When the remote API
// reports no instance, one is auto-provisioned from the template bound to
// the order's service. No bound template means no checklist applies: the
// returned state is empty and the error nil. Any other remote failure
// aborts without provisioning.
func (o *Orchestrator) Resolve(ctx context.Context, orderID int64) (*State, error) {
	const op = "resolve"
	if orderID <= 0 {
		return nil, validationErr(op, "order id must be positive, got %d", orderID)
	}

	local, err := o.store.GetInstanceByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		local = nil
	} else if err != nil {
		return nil, localErr(op, err)
	}

	fetched, err := o.remote.GetInstanceByOrder(ctx, orderID)
	switch {
	case err == nil:
		return o.adoptRemote(ctx, op, orderID, local, fetched)
	case errors.Is(err, remote.ErrNotFound):
		if local != nil {
			return o.adoptLocal(ctx, op, local)
		}
		return o.provision(ctx, op, orderID)
	default:
		return nil, classify(op, err)
	}
}

// ResolveLocal adopts the locally stored instance for an order and its
// cached template without any network call.
func (o *Orchestrator) ResolveLocal(ctx context.Context, orderID int64) (*State, error) {
	const op = "resolveLocal"
	local, err := o.store.GetInstanceByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Op: op, Kind: ErrTransient, Message: fmt.Sprintf("order %d has not been resolved online yet", orderID)}
	}
	if err != nil {
		return nil, localErr(op, err)
	}

	n, err := o.syncer.Pending(ctx, local.LocalID)
	if err != nil {
		return nil, localErr(op, err)
	}
	local.PendingSync = n > 0

	tmpl, err := o.templates.Cached(ctx, local.TemplateID())
	if err != nil {
		st := o.replace(nil, local, true)
		return st, &Error{Op: op, Kind: ErrTemplateMissing, Message: fmt.Sprintf("template %d is not cached", local.TemplateID()), Err: err}
	}
	next := withProgress(*local, tmpl)
	return o.replace(tmpl, &next, false), nil
}

func (o *Orchestrator) adoptRemote(ctx context.Context, op string, orderID int64, local, fetched *types.Instance) (*State, error) {
	if fetched.ID <= 0 {
		return nil, &Error{Op: op, Kind: ErrIntegrity, Message: fmt.Sprintf("instance for order %d has no valid id", orderID)}
	}
	if fetched.OrderID == 0 {
		fetched.OrderID = orderID
	}

	embedded := fetched.Template.Embedded
	merged, err := o.syncer.Reconcile(ctx, local, fetched)
	if err != nil {
		return nil, localErr(op, err)
	}

	var tmpl *types.Template
	if embedded != nil && len(embedded.Items) > 0 {
		o.templates.Remember(ctx, embedded)
		tmpl = embedded
	} else {
		tmpl, err = o.templates.ByID(ctx, merged.TemplateID())
	}
	if err != nil {
		st := o.replace(nil, merged, true)
		return st, &Error{
			Op:      op,
			Kind:    ErrTemplateMissing,
			Message: fmt.Sprintf("template %d for instance %d could not be loaded", merged.TemplateID(), merged.ID),
			Err:     err,
		}
	}

	next := withProgress(*merged, tmpl)
	return o.replace(tmpl, &next, false), nil
}

// adoptLocal takes over an instance that exists only on this device,
// retrying its creation when it was never acknowledged.
func (o *Orchestrator) adoptLocal(ctx context.Context, op string, local *types.Instance) (*State, error) {
	tmpl, err := o.templates.ByID(ctx, local.TemplateID())
	if err != nil {
		st := o.replace(nil, local, true)
		return st, &Error{Op: op, Kind: ErrTemplateMissing, Message: fmt.Sprintf("template %d could not be loaded", local.TemplateID()), Err: err}
	}

	next := withProgress(*local, tmpl)
	o.replace(tmpl, &next, false)
	if !local.Remote() {
		if err := o.pushCreate(ctx, op, local); err != nil {
			return nil, err
		}
	}
	return o.reload(ctx, op, local.LocalID, tmpl)
}

// provision creates a checklist for an order that has none. The instance
// is persisted and queued first; a failed delivery leaves it pending.
func (o *Orchestrator) provision(ctx context.Context, op string, orderID int64) (*State, error) {
	info, err := o.remote.GetOrderInfo(ctx, orderID)
	if err != nil {
		return nil, classify(op, err)
	}
	serviceID := info.ServiceID()
	if serviceID == 0 {
		o.logger.Info("order has no service, no checklist applies",
			"component", "checklist", "action", op, "order_id", orderID)
		return o.replace(nil, nil, false), nil
	}

	tmpl, err := o.templates.ByService(ctx, serviceID)
	if errors.Is(err, templates.ErrNotFound) {
		o.logger.Info("no checklist template bound to service",
			"component", "checklist", "action", op, "order_id", orderID, "service_id", serviceID)
		return o.replace(nil, nil, false), nil
	}
	if err != nil {
		return nil, classify(op, err)
	}

	inst := &types.Instance{
		OrderID:     orderID,
		Template:    types.RefByID(tmpl.ID),
		State:       types.StatePending,
		PendingSync: true,
	}
	if err := o.store.SaveInstance(ctx, inst); err != nil {
		return nil, localErr(op, err)
	}
	o.replace(tmpl, inst, false)

	if err := o.pushCreate(ctx, op, inst); err != nil {
		o.replace(nil, nil, false)
		return nil, err
	}
	o.logger.Info("checklist provisioned",
		"component", "checklist",
		"action", op,
		"order_id", orderID,
		"template_id", tmpl.ID,
		"local_id", inst.LocalID,
	)
	return o.reload(ctx, op, inst.LocalID, tmpl)
}

// pushCreate queues and tries to deliver instance creation. Only a
// permanent failure is returned; a transient one stays queued.
func (o *Orchestrator) pushCreate(ctx context.Context, op string, inst *types.Instance) error {
	w, err := o.syncer.EnqueueCreate(ctx, inst)
	if err != nil {
		return localErr(op, err)
	}
	if _, err := o.syncer.Push(ctx, *w); err != nil {
		if cerr := classify(op, err); !errors.Is(cerr, ErrTransient) {
			return cerr
		}
		o.logger.Warn("instance creation deferred",
			"component", "checklist",
			"action", op,
			"local_id", inst.LocalID,
			"error", err,
		)
	}
	return nil
}
