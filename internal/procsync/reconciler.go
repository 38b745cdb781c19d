package procsync

import (
	"context"
	"fmt"
	"time"
)

// Reconciler applies a remote snapshot to the local task set so the
// remote-sourced rows mirror it. Deletions only happen where the snapshot is
// known to be complete: a row whose parent is listed as degraded may still
// exist remotely, so it is left in place.
type Reconciler struct {
	store TaskStore
	now   func() time.Time
}

func NewReconciler(store TaskStore, now func() time.Time) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: store, now: now}, nil
}

// Reconcile diffs the snapshot against the stored remote-sourced rows, keyed
// by remote ID. Unseen IDs are created, seen IDs are overwritten in place
// (identifier and creation lineage preserved), and stored rows absent from
// the snapshot are deleted. Rows with any other origin are never touched.
// Re-running with an unchanged snapshot yields zero creates and deletes.
//
// degradedParents names tasks whose subtask listing could not be fetched this
// run. Stored subtask rows under those parents are exempt from the deletion
// pass: absent from an incomplete listing does not mean absent remotely.
func (r *Reconciler) Reconcile(ctx context.Context, processID string, items []TaskRecord, degradedParents []string) (SyncResult, error) {
	now := r.now()
	result := SyncResult{SyncedAt: now}

	existing, err := r.store.ListRemoteSourced(ctx, processID)
	if err != nil {
		return result, err
	}
	byRemoteID := make(map[string]TaskRecord, len(existing))
	for _, record := range existing {
		byRemoteID[record.RemoteID] = record
	}

	degraded := make(map[string]struct{}, len(degradedParents))
	for _, parentID := range degradedParents {
		degraded[parentID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.RemoteID == "" {
			continue
		}
		if _, dup := seen[item.RemoteID]; dup {
			continue
		}
		result.Total++
		item.ProcessID = processID
		item.Origin = OriginRemote
		item.SyncedAt = now
		seen[item.RemoteID] = struct{}{}

		if prev, ok := byRemoteID[item.RemoteID]; ok {
			item.ID = prev.ID
			item.CreatedAt = prev.CreatedAt
			if err := r.store.Update(ctx, item); err != nil {
				return result, fmt.Errorf("update task %s: %w", item.RemoteID, err)
			}
			result.Updated++
			continue
		}
		item.CreatedAt = now
		if err := r.store.Create(ctx, item); err != nil {
			return result, fmt.Errorf("create task %s: %w", item.RemoteID, err)
		}
		result.Imported++
	}

	for _, record := range existing {
		if _, ok := seen[record.RemoteID]; ok {
			continue
		}
		if record.IsSubtask && record.ParentRemoteID != "" {
			if _, ok := degraded[record.ParentRemoteID]; ok {
				continue
			}
		}
		if err := r.store.Delete(ctx, processID, record.RemoteID, OriginRemote); err != nil {
			return result, fmt.Errorf("delete task %s: %w", record.RemoteID, err)
		}
		result.Removed++
	}
	return result, nil
}
