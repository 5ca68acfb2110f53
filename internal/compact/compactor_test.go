package compact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

type fakeStore struct {
	items    []*types.ContextItem
	applied  *types.CompressedBucket
	deleted  []string
	applyErr error
}

func (f *fakeStore) ListCompressible(ctx context.Context, req types.CompressRequest) ([]*types.ContextItem, error) {
	return f.items, nil
}

func (f *fakeStore) ApplyCompression(ctx context.Context, bucket *types.CompressedBucket, itemIDs []string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = bucket
	f.deleted = itemIDs
	return nil
}

func (f *fakeStore) ListCompressedBuckets(ctx context.Context, sessionID string, limit int) ([]*types.CompressedBucket, error) {
	if f.applied == nil {
		return nil, nil
	}
	return []*types.CompressedBucket{f.applied}, nil
}

type fakeNarrator struct {
	calls int
	fail  types.Category
}

func (f *fakeNarrator) NarrateCategory(ctx context.Context, sessionID string, summary types.CategorySummary) (string, error) {
	f.calls++
	if summary.Category == f.fail {
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("%d %s items", summary.Count, summary.Category), nil
}

func testItem(id, key string, category types.Category, priority types.Priority, value string, age time.Duration) *types.ContextItem {
	created := time.Now().UTC().Add(-age)
	return &types.ContextItem{
		ID:        id,
		SessionID: "s1",
		Key:       key,
		Value:     value,
		Category:  category,
		Priority:  priority,
		Channel:   "general",
		Size:      len(value),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSummarizeGroupsByCategory(t *testing.T) {
	items := []*types.ContextItem{
		testItem("1", "task-b", types.CategoryTask, types.PriorityHigh, "do the thing", 48*time.Hour),
		testItem("2", "task-a", types.CategoryTask, types.PriorityNormal, "another thing", 72*time.Hour),
		testItem("3", "note-1", types.CategoryNote, types.PriorityNormal, strings.Repeat("x", 300), 48*time.Hour),
	}

	summaries := Summarize(items)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	// Sorted by category name: note before task.
	note, task := summaries[0], summaries[1]
	if note.Category != types.CategoryNote || task.Category != types.CategoryTask {
		t.Fatalf("wrong category order: %s, %s", note.Category, task.Category)
	}
	if task.Count != 2 || task.PriorityHistogram[types.PriorityHigh] != 1 {
		t.Errorf("task summary wrong: %+v", task)
	}
	if len(task.Keys) != 2 || task.Keys[0] != "task-a" {
		t.Errorf("keys not sorted: %v", task.Keys)
	}
	if len(note.Sample) != 1 || len(note.Sample[0].Excerpt) != excerptLen+3 {
		t.Errorf("excerpt not truncated: %d bytes", len(note.Sample[0].Excerpt))
	}
}

func TestSummarizeSampleCap(t *testing.T) {
	var items []*types.ContextItem
	for i := 0; i < 5; i++ {
		items = append(items, testItem(fmt.Sprint(i), fmt.Sprintf("k%d", i), types.CategoryNote, types.PriorityNormal, "v", time.Hour))
	}
	summaries := Summarize(items)
	if len(summaries[0].Sample) != sampleSize {
		t.Errorf("expected %d samples, got %d", sampleSize, len(summaries[0].Sample))
	}
}

func TestCompressWritesBucketAndDeletes(t *testing.T) {
	store := &fakeStore{items: []*types.ContextItem{
		testItem("1", "a", types.CategoryTask, types.PriorityNormal, "aaaa", 72*time.Hour),
		testItem("2", "b", types.CategoryNote, types.PriorityNormal, "bbbb", 24*time.Hour),
	}}
	c, err := New(store, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := types.CompressRequest{SessionID: "s1", OlderThan: time.Now()}
	res, err := c.Compress(context.Background(), req, false)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if res.ItemsCompressed != 2 || res.OriginalSize != 8 {
		t.Errorf("unexpected result %+v", res)
	}
	if store.applied == nil || len(store.deleted) != 2 {
		t.Fatalf("compression not applied: %+v", store)
	}

	bucket := store.applied
	if bucket.OriginalCount != 2 || bucket.CompressedSize == 0 {
		t.Errorf("bucket counts wrong: %+v", bucket)
	}
	if !bucket.DateStart.Before(bucket.DateEnd) {
		t.Errorf("date range wrong: %v .. %v", bucket.DateStart, bucket.DateEnd)
	}
	summaries, err := bucket.Summaries()
	if err != nil {
		t.Fatalf("Summaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("expected 2 category summaries, got %d", len(summaries))
	}
}

func TestCompressDryRun(t *testing.T) {
	store := &fakeStore{items: []*types.ContextItem{
		testItem("1", "a", types.CategoryTask, types.PriorityNormal, "aaaa", 72*time.Hour),
	}}
	c, err := New(store, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := c.Compress(context.Background(), types.CompressRequest{SessionID: "s1", OlderThan: time.Now()}, true)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !res.DryRun || res.Bucket == nil {
		t.Errorf("expected a dry-run bucket, got %+v", res)
	}
	if store.applied != nil || store.deleted != nil {
		t.Error("dry run must not write")
	}
}

func TestCompressNothingEligible(t *testing.T) {
	c, err := New(&fakeStore{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := c.Compress(context.Background(), types.CompressRequest{SessionID: "s1", OlderThan: time.Now()}, false)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if res.Bucket != nil || res.ItemsCompressed != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestCompressRequiresCutoff(t *testing.T) {
	c, err := New(&fakeStore{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Compress(context.Background(), types.CompressRequest{SessionID: "s1"}, false)
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNarrativeAttachedPerCategory(t *testing.T) {
	store := &fakeStore{items: []*types.ContextItem{
		testItem("1", "a", types.CategoryTask, types.PriorityNormal, "aaaa", 72*time.Hour),
		testItem("2", "b", types.CategoryNote, types.PriorityNormal, "bbbb", 24*time.Hour),
	}}
	c, err := New(store, &Config{Concurrency: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	nar := &fakeNarrator{}
	c.narrator = nar

	if _, err := c.Compress(context.Background(), types.CompressRequest{SessionID: "s1", OlderThan: time.Now()}, false); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if nar.calls != 2 {
		t.Errorf("expected 2 narration calls, got %d", nar.calls)
	}
	lines := strings.Split(store.applied.Narrative, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 narrative lines, got %q", store.applied.Narrative)
	}
}

func TestNarrativeFailureDoesNotFailCompression(t *testing.T) {
	store := &fakeStore{items: []*types.ContextItem{
		testItem("1", "a", types.CategoryTask, types.PriorityNormal, "aaaa", 72*time.Hour),
		testItem("2", "b", types.CategoryNote, types.PriorityNormal, "bbbb", 24*time.Hour),
	}}
	c, err := New(store, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.narrator = &fakeNarrator{fail: types.CategoryNote}

	if _, err := c.Compress(context.Background(), types.CompressRequest{SessionID: "s1", OlderThan: time.Now()}, false); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if store.applied == nil {
		t.Fatal("compression not applied")
	}
	if strings.Contains(store.applied.Narrative, "note") || !strings.Contains(store.applied.Narrative, "task") {
		t.Errorf("unexpected narrative %q", store.applied.Narrative)
	}
}

func TestNewWithoutKeyDisablesNarrative(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	c, err := New(&fakeStore{}, &Config{Narrative: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.narrator != nil || c.config.Narrative {
		t.Error("expected narrative disabled without an API key")
	}
}
