package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func TestSearchPrivacyRule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestSession(t, store, "alice")
	bob := newTestSession(t, store, "bob")

	saveTestItem(t, store, alice.ID, "alice.public", "deploy notes")
	saveTestItem(t, store, alice.ID, "alice.private", "deploy secret", func(i *types.ContextItem) {
		i.IsPrivate = true
	})
	saveTestItem(t, store, bob.ID, "bob.public", "deploy checklist")

	// Alice sees her own private item plus every public one.
	res, err := store.SearchItems(ctx, types.SearchOptions{Query: "deploy", SessionID: alice.ID})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 3 {
		t.Errorf("alice expected 3 results, got %d", res.TotalCount)
	}

	// Bob sees only public items; alice's private one never leaks.
	res, err = store.SearchItems(ctx, types.SearchOptions{Query: "deploy", SessionID: bob.ID})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("bob expected 2 results, got %d", res.TotalCount)
	}
	for _, item := range res.Items {
		if item.IsPrivate {
			t.Errorf("private item %q leaked to another session", item.Key)
		}
	}

	// No viewer at all means public-only.
	res, err = store.SearchItems(ctx, types.SearchOptions{Query: "deploy"})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("anonymous expected 2 results, got %d", res.TotalCount)
	}
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	saveTestItem(t, store, session.ID, "task.auth", "implement login", func(i *types.ContextItem) {
		i.Category = types.CategoryTask
		i.Priority = types.PriorityHigh
		i.Channel = "feature-auth"
	})
	saveTestItem(t, store, session.ID, "task.db", "add index", func(i *types.ContextItem) {
		i.Category = types.CategoryTask
	})
	saveTestItem(t, store, session.ID, "decision.orm", "no orm", func(i *types.ContextItem) {
		i.Category = types.CategoryDecision
	})

	category := types.CategoryTask
	res, err := store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, Category: &category})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("category filter expected 2, got %d", res.TotalCount)
	}

	res, err = store.SearchItems(ctx, types.SearchOptions{
		SessionID: session.ID, Channels: []string{"feature-auth"}, Priorities: []types.Priority{types.PriorityHigh},
	})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 1 || res.Items[0].Key != "task.auth" {
		t.Errorf("channel+priority filter expected task.auth, got %+v", res.Items)
	}

	res, err = store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, KeyPattern: "task.*"})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("glob filter expected 2, got %d", res.TotalCount)
	}

	// Query restricted to keys must not match value text.
	res, err = store.SearchItems(ctx, types.SearchOptions{
		SessionID: session.ID, Query: "login", SearchIn: []string{"key"},
	})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 0 {
		t.Errorf("key-only search must not match values, got %d", res.TotalCount)
	}

	badCategory := types.Category("gossip")
	if _, err := store.SearchItems(ctx, types.SearchOptions{Category: &badCategory}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for bad category, got %v", err)
	}
	if _, err := store.SearchItems(ctx, types.SearchOptions{SearchIn: []string{"metadata"}}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for bad searchIn, got %v", err)
	}
}

func TestSearchLikeWildcardsAreLiteral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	saveTestItem(t, store, session.ID, "progress", "done 50% of migration")
	saveTestItem(t, store, session.ID, "other", "done five zero percent")

	res, err := store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, Query: "50%"})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.TotalCount != 1 || res.Items[0].Key != "progress" {
		t.Errorf("%% must match literally, got %d results", res.TotalCount)
	}
}

func TestSearchPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	for i := 0; i < 7; i++ {
		saveTestItem(t, store, session.ID, fmt.Sprintf("item.%02d", i), "v")
	}

	res, err := store.SearchItems(ctx, types.SearchOptions{
		SessionID: session.ID, Sort: types.SortKeyAsc, Limit: 3,
	})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if len(res.Items) != 3 || res.TotalCount != 7 {
		t.Fatalf("expected page of 3 out of 7, got %d of %d", len(res.Items), res.TotalCount)
	}
	p := res.Pagination
	if p.Page != 1 || p.TotalPages != 3 || !p.HasNextPage || p.HasPreviousPage {
		t.Errorf("first page envelope wrong: %+v", p)
	}
	if p.NextOffset == nil || *p.NextOffset != 3 {
		t.Errorf("expected nextOffset 3, got %v", p.NextOffset)
	}

	// Walk pages and check there are no gaps or duplicates.
	seen := map[string]bool{}
	for offset := 0; offset < 7; offset += 3 {
		page, err := store.SearchItems(ctx, types.SearchOptions{
			SessionID: session.ID, Sort: types.SortKeyAsc, Limit: 3, Offset: offset,
		})
		if err != nil {
			t.Fatalf("SearchItems at offset %d failed: %v", offset, err)
		}
		for _, item := range page.Items {
			if seen[item.Key] {
				t.Errorf("key %q returned twice across pages", item.Key)
			}
			seen[item.Key] = true
		}
	}
	if len(seen) != 7 {
		t.Errorf("pagination walk covered %d of 7 items", len(seen))
	}

	// Last page.
	res, err = store.SearchItems(ctx, types.SearchOptions{
		SessionID: session.ID, Sort: types.SortKeyAsc, Limit: 3, Offset: 6,
	})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if len(res.Items) != 1 || res.Pagination.HasNextPage || !res.Pagination.HasPreviousPage {
		t.Errorf("last page envelope wrong: %+v", res.Pagination)
	}
}

func TestSearchLimitDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	saveTestItem(t, store, session.ID, "k", "v")

	// Implicit zero limit falls back to the default and says so.
	res, err := store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if !res.Pagination.DefaultsApplied.Limit || !res.Pagination.DefaultsApplied.Sort {
		t.Errorf("expected defaulted limit and sort to be reported: %+v", res.Pagination.DefaultsApplied)
	}

	// Explicit limit=0 means unlimited, one page, no defaulting reported.
	res, err = store.SearchItems(ctx, types.SearchOptions{
		SessionID: session.ID, ExplicitUnlimited: true, Sort: types.SortKeyAsc,
	})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.Pagination.DefaultsApplied.Limit || res.Pagination.TotalPages != 1 {
		t.Errorf("explicit unlimited envelope wrong: %+v", res.Pagination)
	}
}

func TestSearchSortOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	saveTestItem(t, store, session.ID, "b", "v", func(i *types.ContextItem) { i.Priority = types.PriorityLow })
	saveTestItem(t, store, session.ID, "a", "v", func(i *types.ContextItem) { i.Priority = types.PriorityHigh })
	saveTestItem(t, store, session.ID, "c", "v", func(i *types.ContextItem) { i.Priority = types.PriorityNormal })

	res, err := store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, Sort: types.SortKeyAsc})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.Items[0].Key != "a" || res.Items[2].Key != "c" {
		t.Errorf("key_asc order wrong: %v", keysOf(res.Items))
	}

	res, err = store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, Sort: types.SortPriority})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if res.Items[0].Priority != types.PriorityHigh || res.Items[2].Priority != types.PriorityLow {
		t.Errorf("priority order wrong: %v", keysOf(res.Items))
	}

	// Unrecognized sorts fall back to created_desc instead of erroring.
	res, err = store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, Sort: "alphabetical"})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if !res.Pagination.DefaultsApplied.Sort {
		t.Errorf("expected defaulted sort to be reported")
	}
}

func keysOf(items []*types.ContextItem) []string {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key
	}
	return keys
}

func TestSearchResultShape(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "shape")

	saveTestItem(t, store, session.ID, "shape.key", "payload", func(i *types.ContextItem) {
		i.Metadata = []byte(`{"origin":"test"}`)
	})

	// Default shape carries only key, value, category, priority, channel.
	res, err := store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Items))
	}
	lean := res.Items[0]
	if lean.Key != "shape.key" || lean.Value != "payload" || lean.Channel == "" {
		t.Errorf("lean result lost identity fields: %+v", lean)
	}
	if lean.Size != 0 || lean.Metadata != nil {
		t.Errorf("lean result leaked size=%d metadata=%s", lean.Size, lean.Metadata)
	}
	if !lean.CreatedAt.IsZero() || !lean.UpdatedAt.IsZero() {
		t.Errorf("lean result leaked timestamps: %v / %v", lean.CreatedAt, lean.UpdatedAt)
	}

	// Opting in restores the full row.
	res, err = store.SearchItems(ctx, types.SearchOptions{SessionID: session.ID, IncludeMetadata: true})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	full := res.Items[0]
	if full.Size != len("payload") {
		t.Errorf("expected size %d, got %d", len("payload"), full.Size)
	}
	if full.Metadata == nil {
		t.Error("expected metadata to be present")
	}
	if full.CreatedAt.IsZero() || full.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be present")
	}
}
