// Package compact collapses aged context items into summarized buckets.
// The deterministic summary always happens; an AI narrative is layered on
// top only when an API key is configured.
package compact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/ContextKeeper/internal/debug"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

const (
	defaultConcurrency = 4

	// sampleSize caps how many excerpts a category summary keeps.
	sampleSize = 3

	// excerptLen caps each sample excerpt.
	excerptLen = 120
)

// Config holds configuration for the compression engine.
type Config struct {
	APIKey       string
	Concurrency  int
	Narrative    bool
	AuditEnabled bool
	Actor        string
}

type contextStore interface {
	ListCompressible(ctx context.Context, req types.CompressRequest) ([]*types.ContextItem, error)
	ApplyCompression(ctx context.Context, bucket *types.CompressedBucket, itemIDs []string) error
	ListCompressedBuckets(ctx context.Context, sessionID string, limit int) ([]*types.CompressedBucket, error)
}

type narrator interface {
	NarrateCategory(ctx context.Context, sessionID string, summary types.CategorySummary) (string, error)
}

// Compactor groups eligible items by category, records one compressed
// bucket, and deletes the originals atomically.
type Compactor struct {
	store    contextStore
	narrator narrator
	config   *Config
}

// New creates a Compactor. A missing API key downgrades the narrative
// option silently; any other narrator failure is an error.
func New(store contextStore, config *Config) (*Compactor, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	var nar narrator
	if config.Narrative {
		n, err := NewNarrator(config.APIKey)
		if err != nil {
			if !errors.Is(err, ErrAPIKeyRequired) {
				return nil, fmt.Errorf("failed to create narrator: %w", err)
			}
			config.Narrative = false
		} else {
			n.auditEnabled = config.AuditEnabled
			n.auditActor = config.Actor
			nar = n
		}
	}

	return &Compactor{
		store:    store,
		narrator: nar,
		config:   config,
	}, nil
}

// Result holds the outcome of one compression run.
type Result struct {
	Bucket          *types.CompressedBucket `json:"bucket,omitempty"`
	ItemsCompressed int                     `json:"itemsCompressed"`
	OriginalSize    int                     `json:"originalSize"`
	DryRun          bool                    `json:"dryRun,omitempty"`
}

// Compress selects items older than the request cutoff, summarizes them
// per category, and replaces them with a single bucket. With dryRun the
// bucket is built and returned but nothing is written or deleted.
func (c *Compactor) Compress(ctx context.Context, req types.CompressRequest, dryRun bool) (*Result, error) {
	if req.OlderThan.IsZero() {
		return nil, fmt.Errorf("olderThan is required: %w", storage.ErrInvalidArgument)
	}

	items, err := c.store.ListCompressible(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &Result{DryRun: dryRun}, nil
	}

	summaries := Summarize(items)
	encoded, err := json.Marshal(summaries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bucket summary: %w", err)
	}

	originalSize := 0
	dateStart, dateEnd := items[0].CreatedAt, items[0].CreatedAt
	ids := make([]string, 0, len(items))
	for _, item := range items {
		size := item.Size
		if size == 0 {
			size = len(item.Value)
		}
		originalSize += size
		if item.CreatedAt.Before(dateStart) {
			dateStart = item.CreatedAt
		}
		if item.CreatedAt.After(dateEnd) {
			dateEnd = item.CreatedAt
		}
		ids = append(ids, item.ID)
	}

	bucket := &types.CompressedBucket{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		Summary:        string(encoded),
		OriginalCount:  len(items),
		CompressedSize: len(encoded),
		DateStart:      dateStart.UTC(),
		DateEnd:        dateEnd.UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if originalSize > 0 {
		bucket.Ratio = float64(bucket.CompressedSize) / float64(originalSize)
	}

	result := &Result{
		Bucket:          bucket,
		ItemsCompressed: len(items),
		OriginalSize:    originalSize,
		DryRun:          dryRun,
	}
	if dryRun {
		return result, nil
	}

	if c.narrator != nil {
		bucket.Narrative = c.narrate(ctx, req.SessionID, summaries)
	}

	if err := c.store.ApplyCompression(ctx, bucket, ids); err != nil {
		return nil, err
	}
	return result, nil
}

// Buckets lists past compression runs for a session, newest first.
func (c *Compactor) Buckets(ctx context.Context, sessionID string, limit int) ([]*types.CompressedBucket, error) {
	return c.store.ListCompressedBuckets(ctx, sessionID, limit)
}

// Summarize groups items by category into deterministic summaries. The
// category order is stable so identical input yields identical bytes.
func Summarize(items []*types.ContextItem) []types.CategorySummary {
	groups := make(map[types.Category][]*types.ContextItem)
	for _, item := range items {
		groups[item.Category] = append(groups[item.Category], item)
	}

	categories := make([]string, 0, len(groups))
	for cat := range groups {
		categories = append(categories, string(cat))
	}
	sort.Strings(categories)

	out := make([]types.CategorySummary, 0, len(categories))
	for _, cat := range categories {
		group := groups[types.Category(cat)]
		summary := types.CategorySummary{
			Category:          types.Category(cat),
			Count:             len(group),
			PriorityHistogram: make(map[types.Priority]int),
			Keys:              make([]string, 0, len(group)),
		}
		for _, item := range group {
			summary.PriorityHistogram[item.Priority]++
			summary.Keys = append(summary.Keys, item.Key)
		}
		sort.Strings(summary.Keys)
		for _, item := range group[:min(sampleSize, len(group))] {
			summary.Sample = append(summary.Sample, types.SampleItem{
				Key:     item.Key,
				Excerpt: excerpt(item.Value),
			})
		}
		out = append(out, summary)
	}
	return out
}

// narrate renders one prose line per category, concurrently but bounded.
// A narration failure drops that line; compression never fails on it.
func (c *Compactor) narrate(ctx context.Context, sessionID string, summaries []types.CategorySummary) string {
	lines := make([]string, len(summaries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)
	for i, summary := range summaries {
		i, summary := i, summary
		g.Go(func() error {
			line, err := c.narrator.NarrateCategory(gctx, sessionID, summary)
			if err != nil {
				debug.Logf("narrative for category %s failed: %v", summary.Category, err)
				return nil
			}
			lines[i] = strings.TrimSpace(line)
			return nil
		})
	}
	_ = g.Wait()

	kept := lines[:0]
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func excerpt(value string) string {
	if len(value) <= excerptLen {
		return value
	}
	return value[:excerptLen] + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
