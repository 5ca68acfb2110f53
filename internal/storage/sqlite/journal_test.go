package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func TestJournalAppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	first := &types.JournalEntry{
		SessionID: session.ID,
		Entry:     "started on the auth flow",
		Tags:      []string{"auth", "kickoff"},
		Mood:      "focused",
		CreatedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.AddJournalEntry(ctx, first); err != nil {
		t.Fatalf("AddJournalEntry failed: %v", err)
	}
	second := &types.JournalEntry{
		SessionID: session.ID,
		Entry:     "token refresh is flaky",
		CreatedAt: time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC),
	}
	if err := store.AddJournalEntry(ctx, second); err != nil {
		t.Fatalf("AddJournalEntry failed: %v", err)
	}

	entries, err := store.ListJournal(ctx, session.ID, nil, nil, 0)
	if err != nil {
		t.Fatalf("ListJournal failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Entry != "token refresh is flaky" {
		t.Errorf("entries should be newest first, got %q", entries[0].Entry)
	}
	if len(entries[1].Tags) != 2 || entries[1].Tags[0] != "auth" {
		t.Errorf("tags not round-tripped: %v", entries[1].Tags)
	}

	// Bounded listing: [since, until).
	since := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	entries, err = store.ListJournal(ctx, session.ID, &since, nil, 0)
	if err != nil {
		t.Fatalf("ListJournal failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Entry != "token refresh is flaky" {
		t.Errorf("since bound wrong: %+v", entries)
	}

	if err := store.AddJournalEntry(ctx, &types.JournalEntry{SessionID: session.ID}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("empty entry should be rejected, got %v", err)
	}
	if err := store.AddJournalEntry(ctx, &types.JournalEntry{SessionID: "ghost", Entry: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing session should be rejected, got %v", err)
	}
}

func TestTimelineBuckets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	day1 := time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 11, 16, 30, 0, 0, time.UTC)

	a := saveTestItem(t, store, session.ID, "a", "v", func(i *types.ContextItem) { i.Category = types.CategoryTask })
	backdateItem(t, store, a.ID, day1)
	b := saveTestItem(t, store, session.ID, "b", "v", func(i *types.ContextItem) { i.Category = types.CategoryTask })
	backdateItem(t, store, b.ID, day1.Add(2*time.Hour))
	c := saveTestItem(t, store, session.ID, "c", "v", func(i *types.ContextItem) { i.Category = types.CategoryNote })
	backdateItem(t, store, c.ID, day2)

	if err := store.AddJournalEntry(ctx, &types.JournalEntry{
		SessionID: session.ID, Entry: "good progress", CreatedAt: day1.Add(8 * time.Hour),
	}); err != nil {
		t.Fatalf("AddJournalEntry failed: %v", err)
	}

	buckets, err := store.Timeline(ctx, types.TimelineRequest{SessionID: session.ID, GroupBy: "day", IncludeItems: true})
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 day buckets, got %d", len(buckets))
	}
	first := buckets[0]
	if first.Period != "2026-08-10" || first.ItemCount != 2 {
		t.Errorf("first bucket wrong: %+v", first)
	}
	if first.ByCategory[types.CategoryTask] != 2 {
		t.Errorf("category breakdown wrong: %v", first.ByCategory)
	}
	if len(first.Journal) != 1 || first.Journal[0].Entry != "good progress" {
		t.Errorf("journal not attached to its bucket: %+v", first.Journal)
	}
	if len(first.Items) != 2 {
		t.Errorf("includeItems missing rows: %d", len(first.Items))
	}
	if buckets[1].Period != "2026-08-11" || buckets[1].ItemCount != 1 {
		t.Errorf("second bucket wrong: %+v", buckets[1])
	}

	// Hour grain splits day1 into two buckets.
	hourly, err := store.Timeline(ctx, types.TimelineRequest{
		SessionID: session.ID, GroupBy: "hour",
		Start: &day1, End: timePtr(day1.Add(24 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(hourly) != 3 {
		t.Fatalf("expected 3 hour buckets (2 items + journal), got %d", len(hourly))
	}
	if hourly[0].Period != "2026-08-10 10:00" {
		t.Errorf("hour grain period wrong: %q", hourly[0].Period)
	}

	if _, err := store.Timeline(ctx, types.TimelineRequest{SessionID: session.ID, GroupBy: "week"}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("unknown grain should be rejected, got %v", err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestToolEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := newTestSession(t, store, "work")

	events := []*types.ToolEvent{
		{SessionID: session.ID, Tool: "save", Actor: "agent-1", DurationMs: 4, Success: true},
		{SessionID: session.ID, Tool: "search", Actor: "agent-1", DurationMs: 12, Success: true},
		{Tool: "ping", DurationMs: 1, Success: false, Error: "timeout"},
	}
	for _, ev := range events {
		if err := store.RecordToolEvent(ctx, ev); err != nil {
			t.Fatalf("RecordToolEvent failed: %v", err)
		}
	}

	all, err := store.ListToolEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListToolEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	scoped, err := store.ListToolEvents(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("ListToolEvents failed: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("session scope expected 2 events, got %d", len(scoped))
	}
	for _, ev := range scoped {
		if !ev.Success {
			t.Errorf("unexpected failed event in scope: %+v", ev)
		}
	}

	if err := store.RecordToolEvent(ctx, &types.ToolEvent{}); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("unnamed tool should be rejected, got %v", err)
	}
}
