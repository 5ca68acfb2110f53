package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// newTestStore opens a store on a temp file. File-backed databases behave
// like production (WAL, busy timeout); :memory: does not.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), t.TempDir()+"/context.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return store
}

func newTestSession(t *testing.T, store *Store, name string) *types.Session {
	t.Helper()
	session := &types.Session{ID: uuid.NewString(), Name: name}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to create session %q: %v", name, err)
	}
	return session
}

func saveTestItem(t *testing.T, store *Store, sessionID, key, value string, mut ...func(*types.ContextItem)) *types.ContextItem {
	t.Helper()
	item := &types.ContextItem{SessionID: sessionID, Key: key, Value: value}
	for _, m := range mut {
		m(item)
	}
	if _, err := store.SaveItem(context.Background(), item); err != nil {
		t.Fatalf("failed to save item %q: %v", key, err)
	}
	return item
}

// backdateItem rewrites an item's created_at directly. Save always stamps
// now, so age-sensitive tests adjust rows after the fact.
func backdateItem(t *testing.T, store *Store, itemID string, createdAt time.Time) {
	t.Helper()
	_, err := store.UnderlyingDB().Exec(
		"UPDATE context_items SET created_at = ?, updated_at = ? WHERE id = ?",
		createdAt.UTC(), createdAt.UTC(), itemID)
	if err != nil {
		t.Fatalf("failed to backdate item %s: %v", itemID, err)
	}
}
