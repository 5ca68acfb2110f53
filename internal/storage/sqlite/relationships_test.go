package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func linkItems(t *testing.T, store *Store, sessionID, from, to string, relType types.RelationType) {
	t.Helper()
	err := store.AddRelationship(context.Background(), &types.Relationship{
		SessionID: sessionID, FromKey: from, ToKey: to, Type: relType,
	})
	if err != nil {
		t.Fatalf("failed to link %s -> %s: %v", from, to, err)
	}
}

func TestAddRelationshipValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	saveTestItem(t, store, session.ID, "a", "v")
	saveTestItem(t, store, session.ID, "b", "v")

	// Both endpoints must exist.
	err := store.AddRelationship(ctx, &types.Relationship{
		SessionID: session.ID, FromKey: "a", ToKey: "ghost", Type: types.RelationReferences,
	})
	if !errors.Is(err, storage.ErrFailedPrecondition) {
		t.Errorf("expected ErrFailedPrecondition for missing endpoint, got %v", err)
	}

	err = store.AddRelationship(ctx, &types.Relationship{
		SessionID: session.ID, FromKey: "a", ToKey: "b", Type: "likes",
	})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for bad type, got %v", err)
	}

	linkItems(t, store, session.ID, "a", "b", types.RelationDependsOn)

	// Exact duplicate edges are rejected; a different type is a new edge.
	err = store.AddRelationship(ctx, &types.Relationship{
		SessionID: session.ID, FromKey: "a", ToKey: "b", Type: types.RelationDependsOn,
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate edge, got %v", err)
	}
	linkItems(t, store, session.ID, "a", "b", types.RelationReferences)
}

func TestGetRelatedTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	for _, k := range []string{"a", "b", "c", "d"} {
		saveTestItem(t, store, session.ID, k, "v")
	}
	linkItems(t, store, session.ID, "a", "b", types.RelationDependsOn)
	linkItems(t, store, session.ID, "b", "c", types.RelationDependsOn)
	linkItems(t, store, session.ID, "d", "a", types.RelationReferences)

	// Depth 1, outgoing only.
	related, err := store.GetRelated(ctx, session.ID, "a", types.RelatedOptions{Direction: "outgoing"})
	if err != nil {
		t.Fatalf("GetRelated failed: %v", err)
	}
	if len(related) != 1 || related[0].Key != "b" || related[0].Depth != 1 {
		t.Fatalf("expected one hop to b, got %+v", related)
	}

	// Depth 2, both directions, with loaded items.
	related, err = store.GetRelated(ctx, session.ID, "a", types.RelatedOptions{
		MaxDepth: 2, IncludeItems: true,
	})
	if err != nil {
		t.Fatalf("GetRelated failed: %v", err)
	}
	byKey := map[string]*types.RelatedItem{}
	for _, r := range related {
		byKey[r.Key] = r
	}
	if len(byKey) != 3 {
		t.Fatalf("expected b, c, d reachable, got %v", byKey)
	}
	if c := byKey["c"]; c == nil || c.Depth != 2 || !reflect.DeepEqual(c.Path, []string{"a", "b", "c"}) {
		t.Errorf("path to c wrong: %+v", c)
	}
	if d := byKey["d"]; d == nil || d.Direction != "incoming" {
		t.Errorf("d should be an incoming hop: %+v", d)
	}
	if byKey["b"].Item == nil || byKey["b"].Item.Key != "b" {
		t.Errorf("includeItems did not load the row: %+v", byKey["b"])
	}

	// Type filter.
	related, err = store.GetRelated(ctx, session.ID, "a", types.RelatedOptions{
		Types: []types.RelationType{types.RelationReferences},
	})
	if err != nil {
		t.Fatalf("GetRelated failed: %v", err)
	}
	if len(related) != 1 || related[0].Key != "d" {
		t.Errorf("type filter expected only d, got %+v", related)
	}

	if _, err := store.GetRelated(ctx, session.ID, "a", types.RelatedOptions{Direction: "sideways"}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for bad direction, got %v", err)
	}
}

func TestDetectCycles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	for _, k := range []string{"a", "b", "c", "x"} {
		saveTestItem(t, store, session.ID, k, "v")
	}

	cycles, err := store.DetectCycles(ctx, session.ID)
	if err != nil {
		t.Fatalf("DetectCycles failed: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("empty graph has no cycles, got %v", cycles)
	}

	linkItems(t, store, session.ID, "a", "b", types.RelationDependsOn)
	linkItems(t, store, session.ID, "b", "c", types.RelationDependsOn)
	linkItems(t, store, session.ID, "c", "a", types.RelationDependsOn)
	// A non-depends_on back edge must not count as a cycle.
	linkItems(t, store, session.ID, "x", "a", types.RelationReferences)
	linkItems(t, store, session.ID, "a", "x", types.RelationReferences)

	cycles, err = store.DetectCycles(ctx, session.ID)
	if err != nil {
		t.Fatalf("DetectCycles failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %v", cycles)
	}
	if !reflect.DeepEqual(cycles[0], []string{"a", "b", "c"}) {
		t.Errorf("cycle should be reported from its entry node: %v", cycles[0])
	}
}

func TestRelationshipStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")
	for _, k := range []string{"hub", "a", "b", "lonely"} {
		saveTestItem(t, store, session.ID, k, "v")
	}
	linkItems(t, store, session.ID, "hub", "a", types.RelationDependsOn)
	linkItems(t, store, session.ID, "hub", "b", types.RelationDependsOn)
	linkItems(t, store, session.ID, "a", "hub", types.RelationReferences)

	stats, err := store.RelationshipStats(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("RelationshipStats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected 3 edges, got %d", stats.Total)
	}
	if stats.ByType[types.RelationDependsOn] != 2 || stats.ByType[types.RelationReferences] != 1 {
		t.Errorf("by-type counts wrong: %v", stats.ByType)
	}
	if len(stats.MostConnected) != 2 || stats.MostConnected[0].Key != "hub" || stats.MostConnected[0].Degree != 3 {
		t.Errorf("most connected wrong: %+v", stats.MostConnected)
	}
	if !reflect.DeepEqual(stats.Orphans, []string{"lonely"}) {
		t.Errorf("orphans wrong: %v", stats.Orphans)
	}
}
