package procsync

import (
	"context"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, store TaskStore) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(store, func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("new reconciler failed: %v", err)
	}
	return reconciler
}

func remoteItem(remoteID, title string) TaskRecord {
	return TaskRecord{RemoteID: remoteID, Title: title, Phase: PhasePlan}
}

func TestReconcileImportsUnseenItems(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	result, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{
		remoteItem("task_1", "Draft charter"),
		remoteItem("task_2", "Collect baselines"),
	}, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Imported != 2 || result.Updated != 0 || result.Removed != 0 || result.Total != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	rows, err := store.ListRemoteSourced(context.Background(), "proc_1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Origin != OriginRemote {
			t.Fatalf("expected remote origin, got %s", row.Origin)
		}
		if !row.SyncedAt.Equal(fixedNow) || !row.CreatedAt.Equal(fixedNow) {
			t.Fatalf("expected timestamps set to run time, got %+v", row)
		}
		if row.ID == "" {
			t.Fatalf("expected store-assigned id")
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)
	snapshot := []TaskRecord{
		remoteItem("task_1", "Draft charter"),
		remoteItem("task_2", "Collect baselines"),
		remoteItem("task_3", "Review metrics"),
	}

	if _, err := reconciler.Reconcile(context.Background(), "proc_1", snapshot, nil); err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	second, err := reconciler.Reconcile(context.Background(), "proc_1", snapshot, nil)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if second.Imported != 0 || second.Removed != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", second)
	}
	if second.Updated != 3 || second.Total != 3 {
		t.Fatalf("expected all items re-applied as updates, got %+v", second)
	}
}

func TestReconcileUpdatePreservesLineage(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	if _, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{remoteItem("task_1", "Old title")}, nil); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}
	before, _ := store.ListRemoteSourced(context.Background(), "proc_1")

	changed := remoteItem("task_1", "New title")
	changed.Completed = true
	if _, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{changed}, nil); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}

	after, _ := store.ListRemoteSourced(context.Background(), "proc_1")
	if len(after) != 1 {
		t.Fatalf("expected one row, got %d", len(after))
	}
	if after[0].ID != before[0].ID {
		t.Fatalf("expected record identity preserved across update")
	}
	if !after[0].CreatedAt.Equal(before[0].CreatedAt) {
		t.Fatalf("expected creation lineage preserved across update")
	}
	if after[0].Title != "New title" || !after[0].Completed {
		t.Fatalf("expected mutable fields overwritten, got %+v", after[0])
	}
}

func TestReconcileDeletesVanishedRemoteRows(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	if _, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{
		remoteItem("task_1", "Stays"),
		remoteItem("task_2", "Vanishes"),
	}, nil); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	result, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{remoteItem("task_1", "Stays")}, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 || result.Updated != 1 || result.Imported != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	rows, _ := store.ListRemoteSourced(context.Background(), "proc_1")
	if len(rows) != 1 || rows[0].RemoteID != "task_1" {
		t.Fatalf("expected only task_1 to survive, got %+v", rows)
	}
}

func TestReconcileNeverTouchesOtherOrigins(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Create(context.Background(), TaskRecord{
		ProcessID: "proc_1",
		Origin:    OriginLocal,
		Title:     "Locally authored note",
	}); err != nil {
		t.Fatalf("seed local row failed: %v", err)
	}
	if err := store.Create(context.Background(), TaskRecord{
		ProcessID: "proc_1",
		RemoteID:  "task_doc",
		Origin:    OriginManagedDoc,
		Title:     "[ADLI: Approach] doc",
	}); err != nil {
		t.Fatalf("seed managed row failed: %v", err)
	}

	reconciler := newTestReconciler(t, store)
	result, err := reconciler.Reconcile(context.Background(), "proc_1", nil, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 0 {
		t.Fatalf("expected empty snapshot to remove nothing non-remote, got %+v", result)
	}
	if got := len(store.All()); got != 2 {
		t.Fatalf("expected local and managed rows untouched, got %d rows", got)
	}
}

func TestReconcileScopesRowsByProcess(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	if _, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{remoteItem("task_1", "A")}, nil); err != nil {
		t.Fatalf("reconcile proc_1 failed: %v", err)
	}
	if _, err := reconciler.Reconcile(context.Background(), "proc_2", []TaskRecord{remoteItem("task_1", "B")}, nil); err != nil {
		t.Fatalf("reconcile proc_2 failed: %v", err)
	}

	result, err := reconciler.Reconcile(context.Background(), "proc_1", nil, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected proc_1 row removed, got %+v", result)
	}
	rows, _ := store.ListRemoteSourced(context.Background(), "proc_2")
	if len(rows) != 1 {
		t.Fatalf("expected proc_2 row untouched, got %+v", rows)
	}
}

func TestReconcileKeepsSubtasksOfDegradedParents(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	parent := remoteItem("task_3", "Collect baselines")
	sub := remoteItem("sub_1", "Pull survey data")
	sub.IsSubtask = true
	sub.ParentRemoteID = "task_3"
	if _, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{parent, sub}, nil); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	result, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{parent}, []string{"task_3"})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 0 {
		t.Fatalf("a subtask under a degraded parent must not be deleted, got %+v", result)
	}
	rows, _ := store.ListRemoteSourced(context.Background(), "proc_1")
	if len(rows) != 2 {
		t.Fatalf("expected both rows to survive, got %+v", rows)
	}

	result, err = reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{parent}, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("a complete listing must still delete the vanished subtask, got %+v", result)
	}
}

func TestReconcileDeduplicatesRemoteIDs(t *testing.T) {
	store := NewMemoryStore()
	reconciler := newTestReconciler(t, store)

	result, err := reconciler.Reconcile(context.Background(), "proc_1", []TaskRecord{
		remoteItem("task_1", "First occurrence"),
		remoteItem("task_1", "Duplicate"),
	}, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Imported != 1 || result.Total != 1 {
		t.Fatalf("expected duplicate remote id to apply once, got %+v", result)
	}
	rows, _ := store.ListRemoteSourced(context.Background(), "proc_1")
	if len(rows) != 1 {
		t.Fatalf("expected one row per remote id, got %d", len(rows))
	}
	if rows[0].Title != "First occurrence" {
		t.Fatalf("expected the first occurrence to win, got %+v", rows[0])
	}
}
