package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func TestCheckpointSnapshotIsImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	saveTestItem(t, store, session.ID, "a", "before")
	saveTestItem(t, store, session.ID, "b", "v")

	cp := &types.Checkpoint{SessionID: session.ID, Name: "before-refactor"}
	if err := store.CreateCheckpoint(ctx, cp); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	if cp.ItemCount != 2 {
		t.Errorf("expected 2 items captured, got %d", cp.ItemCount)
	}

	// Mutations after the checkpoint must not bleed into the snapshot.
	saveTestItem(t, store, session.ID, "a", "after")
	if _, err := store.DeleteItem(ctx, session.ID, "b"); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}

	items, err := store.CheckpointItems(ctx, cp.ID)
	if err != nil {
		t.Fatalf("CheckpointItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("snapshot changed size: %d", len(items))
	}
	byKey := map[string]string{}
	for _, it := range items {
		byKey[it.Key] = it.Value
	}
	if byKey["a"] != "before" || byKey["b"] != "v" {
		t.Errorf("snapshot content changed: %v", byKey)
	}

	// Checkpointing twice with no writes captures identical sets.
	cp2 := &types.Checkpoint{SessionID: session.ID, Name: "again"}
	if err := store.CreateCheckpoint(ctx, cp2); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	cp3 := &types.Checkpoint{SessionID: session.ID, Name: "again-2"}
	if err := store.CreateCheckpoint(ctx, cp3); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	if cp2.ItemCount != cp3.ItemCount {
		t.Errorf("consecutive checkpoints differ: %d vs %d", cp2.ItemCount, cp3.ItemCount)
	}
}

func TestGetCheckpointByIDAndName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	saveTestItem(t, store, session.ID, "k", "v")

	cp := &types.Checkpoint{SessionID: session.ID, Name: "milestone"}
	if err := store.CreateCheckpoint(ctx, cp); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}

	byID, err := store.GetCheckpoint(ctx, "", cp.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint by id failed: %v", err)
	}
	byName, err := store.GetCheckpoint(ctx, session.ID, "milestone")
	if err != nil {
		t.Fatalf("GetCheckpoint by name failed: %v", err)
	}
	if byID.ID != cp.ID || byName.ID != cp.ID {
		t.Errorf("lookups disagree: %s / %s / %s", cp.ID, byID.ID, byName.ID)
	}

	if _, err := store.GetCheckpoint(ctx, "", "no-such"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	saveTestItem(t, store, session.ID, "a", "1")
	saveTestItem(t, store, session.ID, "b", "2", func(i *types.ContextItem) { i.IsPrivate = true })

	cp := &types.Checkpoint{SessionID: session.ID, Name: "snap"}
	if err := store.CreateCheckpoint(ctx, cp); err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	saveTestItem(t, store, session.ID, "a", "changed")

	restored, count, err := store.RestoreCheckpoint(ctx, "snap", types.RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 items restored, got %d", count)
	}
	if restored.ID == session.ID {
		t.Fatal("restore must create a new session")
	}
	if restored.ParentID != session.ID {
		t.Errorf("restored session should point at its origin, got %q", restored.ParentID)
	}
	if restored.Name != "Restored from: snap" {
		t.Errorf("unexpected restored session name %q", restored.Name)
	}

	// Restored content is the snapshot, not the live state.
	got, err := store.GetOwnItem(ctx, restored.ID, "a")
	if err != nil {
		t.Fatalf("GetOwnItem failed: %v", err)
	}
	if got.Value != "1" {
		t.Errorf("restored value should be the snapshot's, got %q", got.Value)
	}
	got, err = store.GetOwnItem(ctx, restored.ID, "b")
	if err != nil {
		t.Fatalf("GetOwnItem failed: %v", err)
	}
	if !got.IsPrivate {
		t.Error("privacy flag must survive restore")
	}

	// The original session is untouched.
	got, _ = store.GetOwnItem(ctx, session.ID, "a")
	if got.Value != "changed" {
		t.Errorf("restore must not touch the source session, got %q", got.Value)
	}
}

func TestBranchSessionDepth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "main-line")
	saveTestItem(t, store, session.ID, "critical", "v", func(i *types.ContextItem) { i.Priority = types.PriorityHigh })
	saveTestItem(t, store, session.ID, "minor", "v")

	shallow, copied, err := store.BranchSession(ctx, session.ID, "experiment", types.CopyShallow)
	if err != nil {
		t.Fatalf("BranchSession shallow failed: %v", err)
	}
	if copied != 1 {
		t.Errorf("shallow branch should copy only high priority, got %d", copied)
	}
	if shallow.ParentID != session.ID {
		t.Errorf("branch lineage wrong: %q", shallow.ParentID)
	}
	if _, err := store.GetOwnItem(ctx, shallow.ID, "minor"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("shallow branch must not carry normal items, got %v", err)
	}

	_, copied, err = store.BranchSession(ctx, session.ID, "experiment-deep", types.CopyDeep)
	if err != nil {
		t.Fatalf("BranchSession deep failed: %v", err)
	}
	if copied != 2 {
		t.Errorf("deep branch should copy everything, got %d", copied)
	}

	if _, _, err := store.BranchSession(ctx, session.ID, "bad", "halfway"); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for bad depth, got %v", err)
	}
}

func TestMergeSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	setup := func(t *testing.T) (src, dst *types.Session) {
		src = newTestSession(t, store, "src-"+t.Name())
		dst = newTestSession(t, store, "dst-"+t.Name())
		saveTestItem(t, store, src.ID, "only-src", "from source")
		saveTestItem(t, store, dst.ID, "conflict", "target version")
		saveTestItem(t, store, src.ID, "conflict", "source version")
		return src, dst
	}

	t.Run("keep_current", func(t *testing.T) {
		src, dst := setup(t)
		merged, skipped, err := store.MergeSessions(ctx, src.ID, dst.ID, types.MergeKeepCurrent)
		if err != nil {
			t.Fatalf("MergeSessions failed: %v", err)
		}
		if merged != 1 || skipped != 1 {
			t.Errorf("expected 1 merged / 1 skipped, got %d / %d", merged, skipped)
		}
		got, _ := store.GetOwnItem(ctx, dst.ID, "conflict")
		if got.Value != "target version" {
			t.Errorf("keep_current must keep the target, got %q", got.Value)
		}
		if _, err := store.GetOwnItem(ctx, dst.ID, "only-src"); err != nil {
			t.Errorf("non-conflicting item not copied: %v", err)
		}
	})

	t.Run("keep_source", func(t *testing.T) {
		src, dst := setup(t)
		merged, skipped, err := store.MergeSessions(ctx, src.ID, dst.ID, types.MergeKeepSource)
		if err != nil {
			t.Fatalf("MergeSessions failed: %v", err)
		}
		if merged != 2 || skipped != 0 {
			t.Errorf("expected 2 merged / 0 skipped, got %d / %d", merged, skipped)
		}
		got, _ := store.GetOwnItem(ctx, dst.ID, "conflict")
		if got.Value != "source version" {
			t.Errorf("keep_source must overwrite, got %q", got.Value)
		}
	})

	t.Run("keep_newest", func(t *testing.T) {
		src, dst := setup(t)
		// Make the target copy strictly newer than the source copy.
		tgt, _ := store.GetOwnItem(ctx, dst.ID, "conflict")
		srcItem, _ := store.GetOwnItem(ctx, src.ID, "conflict")
		_, err := store.UnderlyingDB().Exec(
			"UPDATE context_items SET updated_at = datetime(?, '+1 hour') WHERE id = ?",
			srcItem.UpdatedAt.UTC(), tgt.ID)
		if err != nil {
			t.Fatalf("failed to adjust timestamps: %v", err)
		}

		merged, skipped, err := store.MergeSessions(ctx, src.ID, dst.ID, types.MergeKeepNewest)
		if err != nil {
			t.Fatalf("MergeSessions failed: %v", err)
		}
		if merged != 1 || skipped != 1 {
			t.Errorf("expected 1 merged / 1 skipped, got %d / %d", merged, skipped)
		}
		got, _ := store.GetOwnItem(ctx, dst.ID, "conflict")
		if got.Value != "target version" {
			t.Errorf("newer target must win, got %q", got.Value)
		}
	})

	src, _ := setup(t)
	if _, _, err := store.MergeSessions(ctx, src.ID, src.ID, types.MergeKeepNewest); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for self merge, got %v", err)
	}
}
