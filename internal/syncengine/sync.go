package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/inspecta/internal/types"
)

// SyncOfflineData attempts delivery of every queued write in FIFO order.
// Failures stay queued for the next pass. Afterwards the stored pendingSync
// flag is cleared for each instance whose queue drained.
func (e *Engine) SyncOfflineData(ctx context.Context) (*SyncStats, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	stats := &SyncStats{}

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return stats, fmt.Errorf("list pending writes: %w", err)
	}

	touched := make(map[string]struct{})
	for _, w := range pending {
		if ctx.Err() != nil {
			break
		}
		touched[w.InstanceKey] = struct{}{}

		_, err := e.Push(ctx, w)
		if errors.Is(err, ErrNotReady) {
			stats.Skipped++
			continue
		}
		stats.Attempted++
		switch {
		case err == nil:
			stats.Pushed++
		case permanent(err):
			stats.Discarded++
		default:
			stats.Failed++
		}
	}

	for key := range touched {
		if err := e.settleInstance(ctx, key); err != nil {
			slog.Warn("failed to update pending flag",
				"component", "syncengine",
				"action", "settle",
				"instance_key", key,
				"error", err,
			)
		}
	}

	remaining, err := e.store.ListPending(ctx)
	if err != nil {
		return stats, fmt.Errorf("list remaining writes: %w", err)
	}
	stats.Remaining = len(remaining)
	for _, w := range remaining {
		if w.Attempts >= e.maxAttempts {
			stats.Stuck++
		}
	}
	stats.Duration = time.Since(start)

	slog.Info("sync pass complete",
		"component", "syncengine",
		"action", "sync",
		"attempted", stats.Attempted,
		"pushed", stats.Pushed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"discarded", stats.Discarded,
		"stuck", stats.Stuck,
		"remaining", stats.Remaining,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, ctx.Err()
}

// settleInstance rewrites the stored pendingSync flag from the queue.
func (e *Engine) settleInstance(ctx context.Context, instanceKey string) error {
	n, err := e.store.CountPending(ctx, instanceKey)
	if err != nil {
		return err
	}
	inst, err := e.store.GetInstance(ctx, instanceKey)
	if err != nil {
		return err
	}
	if inst.PendingSync == (n > 0) {
		return nil
	}
	inst.PendingSync = n > 0
	return e.store.SaveInstance(ctx, inst)
}

// Pending reports how many writes are queued for an instance.
func (e *Engine) Pending(ctx context.Context, instanceKey string) (int, error) {
	return e.store.CountPending(ctx, instanceKey)
}

// PendingItems returns the item ids with a queued response or photo write.
func (e *Engine) PendingItems(ctx context.Context, instanceKey string) (map[int64]bool, error) {
	all, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	items := make(map[int64]bool)
	for _, w := range all {
		if w.InstanceKey != instanceKey || w.ItemKey == "" {
			continue
		}
		head, _, _ := strings.Cut(w.ItemKey, "/")
		if id, err := strconv.ParseInt(head, 10, 64); err == nil {
			items[id] = true
		}
	}
	return items, nil
}

// Merge adopts the remote instance as the base and keeps the local
// response for every item that still has a queued write. Local writes win
// over a stale remote read until they are pushed.
func Merge(local, remote *types.Instance, pendingItems map[int64]bool) *types.Instance {
	merged := remote.Clone()
	merged.LocalID = local.LocalID
	if merged.ID <= 0 {
		merged.ID = local.ID
	}
	if !merged.Template.Valid() {
		merged.Template = local.Template
	}
	if merged.TechnicianSignature == "" {
		merged.TechnicianSignature = local.TechnicianSignature
	}
	if merged.ClientSignature == "" {
		merged.ClientSignature = local.ClientSignature
	}

	for _, resp := range local.Responses {
		if pendingItems[resp.ItemTemplateID] {
			if remoteResp, ok := merged.Response(resp.ItemTemplateID); ok && resp.ID == 0 {
				resp.ID = remoteResp.ID
			}
			merged.UpsertResponse(resp)
		}
	}
	merged.PendingSync = len(pendingItems) > 0
	return &merged
}

// Reconcile merges a freshly fetched remote instance into the stored local
// copy (nil when the order was never seen locally) and persists the result.
func (e *Engine) Reconcile(ctx context.Context, local, remote *types.Instance) (*types.Instance, error) {
	if local == nil || local.LocalID == "" {
		merged := remote.Clone()
		merged.LocalID = ""
		merged.PendingSync = false
		if err := e.store.SaveInstance(ctx, &merged); err != nil {
			return nil, fmt.Errorf("save remote instance: %w", err)
		}
		return &merged, nil
	}

	// The stored copy holds every locally captured response, including
	// ones the caller's in-memory instance may not carry.
	if stored, err := e.store.GetInstance(ctx, local.LocalID); err == nil {
		local = stored
	}

	pendingItems, err := e.PendingItems(ctx, local.LocalID)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	merged := Merge(local, remote, pendingItems)

	n, err := e.store.CountPending(ctx, local.LocalID)
	if err != nil {
		return nil, fmt.Errorf("count pending writes: %w", err)
	}
	merged.PendingSync = n > 0

	if err := e.store.SaveInstance(ctx, merged); err != nil {
		return nil, fmt.Errorf("save merged instance: %w", err)
	}
	return merged, nil
}
