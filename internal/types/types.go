// Package types defines the core data structures for the ContextKeeper system.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Limits enforced across the repository. Values are part of the wire
// contract: callers rely on batch rejection above MaxBatchSize and on the
// 1 MiB value ceiling.
const (
	MaxKeyLength     = 255
	MaxValueBytes    = 1 << 20
	MaxChannelLength = 20
	MaxBatchSize     = 100
	MaxQueryLength   = 1000

	DefaultChannel     = "general"
	DefaultSearchLimit = 100
)

// Category classifies a context item. The set is closed; anything else is
// rejected at validation time.
type Category string

const (
	CategoryTask     Category = "task"
	CategoryDecision Category = "decision"
	CategoryProgress Category = "progress"
	CategoryNote     Category = "note"
	CategoryError    Category = "error"
	CategoryWarning  Category = "warning"
	CategoryGit      Category = "git"
	CategorySystem   Category = "system"
)

// IsValid checks if the category is one of the closed set.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTask, CategoryDecision, CategoryProgress, CategoryNote,
		CategoryError, CategoryWarning, CategoryGit, CategorySystem:
		return true
	}
	return false
}

// Categories returns all valid categories in display order.
func Categories() []Category {
	return []Category{
		CategoryTask, CategoryDecision, CategoryProgress, CategoryNote,
		CategoryError, CategoryWarning, CategoryGit, CategorySystem,
	}
}

// Priority expresses retention weight of an item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority is one of the closed set.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// RelationType is the type of a directed edge between two items.
type RelationType string

const (
	RelationContains   RelationType = "contains"
	RelationDependsOn  RelationType = "depends_on"
	RelationReferences RelationType = "references"
	RelationImplements RelationType = "implements"
	RelationExtends    RelationType = "extends"
	RelationRelatedTo  RelationType = "related_to"
	RelationBlocks     RelationType = "blocks"
	RelationBlockedBy  RelationType = "blocked_by"
	RelationParentOf   RelationType = "parent_of"
	RelationChildOf    RelationType = "child_of"
)

// IsValid checks if the relation type is one of the closed set.
func (r RelationType) IsValid() bool {
	switch r {
	case RelationContains, RelationDependsOn, RelationReferences,
		RelationImplements, RelationExtends, RelationRelatedTo,
		RelationBlocks, RelationBlockedBy, RelationParentOf, RelationChildOf:
		return true
	}
	return false
}

// SortOrder selects result ordering for the search engine. Ties are always
// broken by created_at DESC, id ASC so pagination stays stable.
type SortOrder string

const (
	SortCreatedDesc SortOrder = "created_desc"
	SortCreatedAsc  SortOrder = "created_asc"
	SortUpdatedDesc SortOrder = "updated_desc"
	SortUpdatedAsc  SortOrder = "updated_asc"
	SortKeyAsc      SortOrder = "key_asc"
	SortKeyDesc     SortOrder = "key_desc"
	SortPriority    SortOrder = "priority"
)

// IsValid checks if the sort order is recognized.
func (s SortOrder) IsValid() bool {
	switch s {
	case SortCreatedDesc, SortCreatedAsc, SortUpdatedDesc, SortUpdatedAsc,
		SortKeyAsc, SortKeyDesc, SortPriority:
		return true
	}
	return false
}

// MergeStrategy picks the winner when merging sessions hits a key conflict.
type MergeStrategy string

const (
	MergeKeepCurrent MergeStrategy = "keep_current"
	MergeKeepSource  MergeStrategy = "keep_source"
	MergeKeepNewest  MergeStrategy = "keep_newest"
)

// IsValid checks if the merge strategy is recognized.
func (m MergeStrategy) IsValid() bool {
	switch m {
	case MergeKeepCurrent, MergeKeepSource, MergeKeepNewest:
		return true
	}
	return false
}

// CopyDepth controls how much of a session a branch copies.
type CopyDepth string

const (
	CopyShallow CopyDepth = "shallow"
	CopyDeep    CopyDepth = "deep"
)

// IsValid checks if the copy depth is recognized.
func (c CopyDepth) IsValid() bool {
	return c == CopyShallow || c == CopyDeep
}

// Session is a named container for context items and their derived
// artifacts. Sessions are never deleted; lineage is preserved through
// ParentID.
type Session struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	WorkingDir     string    `json:"working_dir,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"`
	DefaultChannel string    `json:"default_channel"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ContextItem is a single keyed piece of memory, unique per (session, key).
type ContextItem struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	Category  Category        `json:"category,omitempty"`
	Priority  Priority        `json:"priority"`
	Channel   string          `json:"channel"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Size      int             `json:"size"`
	IsPrivate bool            `json:"is_private"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate performs structural checks on the item. Key character rules live
// in the validation package; this covers sizes and enums.
func (ci *ContextItem) Validate() error {
	if ci.Key == "" {
		return fmt.Errorf("context item key cannot be empty")
	}
	if len(ci.Key) > MaxKeyLength {
		return fmt.Errorf("context item key exceeds maximum length of %d characters", MaxKeyLength)
	}
	if len(ci.Value) > MaxValueBytes {
		return fmt.Errorf("context item value exceeds maximum size of %d bytes", MaxValueBytes)
	}
	if ci.Category != "" && !ci.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", ci.Category)
	}
	if ci.Priority != "" && !ci.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", ci.Priority)
	}
	if ci.Channel != "" && len(ci.Channel) > MaxChannelLength {
		return fmt.Errorf("channel exceeds maximum length of %d characters", MaxChannelLength)
	}
	return nil
}

// Relationship is a typed directed edge between two items of one session.
type Relationship struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	FromKey   string          `json:"from_key"`
	ToKey     string          `json:"to_key"`
	Type      RelationType    `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RelatedItem is one hop discovered by graph traversal.
type RelatedItem struct {
	Key       string       `json:"key"`
	Type      RelationType `json:"type"`
	Direction string       `json:"direction"` // "outgoing" or "incoming"
	Depth     int          `json:"depth"`
	Path      []string     `json:"path"`
	Item      *ContextItem `json:"item,omitempty"`
}

// NodeDegree pairs an item key with its edge count, for statistics.
type NodeDegree struct {
	Key    string `json:"key"`
	Degree int    `json:"degree"`
}

// RelationshipStats summarizes a session's graph.
type RelationshipStats struct {
	Total         int                  `json:"total"`
	ByType        map[RelationType]int `json:"by_type"`
	MostConnected []NodeDegree         `json:"most_connected"`
	Orphans       []string             `json:"orphans"`
}

// Checkpoint is an immutable snapshot of a session's items.
type Checkpoint struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GitStatus   string    `json:"git_status,omitempty"`
	GitBranch   string    `json:"git_branch,omitempty"`
	ItemCount   int       `json:"item_count"`
	FileCount   int       `json:"file_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// JournalEntry is an append-only note attached to a session.
type JournalEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Entry     string    `json:"entry"`
	Tags      []string  `json:"tags,omitempty"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SampleItem is a short excerpt kept inside a compression summary.
type SampleItem struct {
	Key     string `json:"key"`
	Excerpt string `json:"excerpt"`
}

// CategorySummary describes one category group inside a compressed bucket.
type CategorySummary struct {
	Category          Category         `json:"category"`
	Count             int              `json:"count"`
	PriorityHistogram map[Priority]int `json:"priorityHistogram"`
	Keys              []string         `json:"keys"`
	Sample            []SampleItem     `json:"sample"`
}

// CompressedBucket records the outcome of one compression run. The summary
// is retrievable but never editable.
type CompressedBucket struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Summary        string    `json:"summary"` // serialized []CategorySummary
	Narrative      string    `json:"narrative,omitempty"`
	OriginalCount  int       `json:"original_count"`
	CompressedSize int       `json:"compressed_size"`
	Ratio          float64   `json:"ratio"`
	DateStart      time.Time `json:"date_start"`
	DateEnd        time.Time `json:"date_end"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summaries decodes the serialized category summaries.
func (b *CompressedBucket) Summaries() ([]CategorySummary, error) {
	var out []CategorySummary
	if err := json.Unmarshal([]byte(b.Summary), &out); err != nil {
		return nil, fmt.Errorf("failed to decode bucket summary: %w", err)
	}
	return out, nil
}

// ToolEvent is an append-only record of one dispatched tool invocation.
type ToolEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Tool       string    `json:"tool"`
	Actor      string    `json:"actor,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventType classifies a mutation observed by watchers.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// MutationEvent is the committed state of one write as seen by watchers.
// Filter evaluation uses the fields captured here, not a later re-read.
type MutationEvent struct {
	Sequence  uint64    `json:"sequence"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id"`
	Key       string    `json:"key"`
	Category  Category  `json:"category,omitempty"`
	Channel   string    `json:"channel"`
	Priority  Priority  `json:"priority"`
	IsPrivate bool      `json:"is_private"`
	Timestamp time.Time `json:"timestamp"`
}

// WatchFilter restricts which mutation events a watcher receives. Empty
// fields match everything; the privacy rule is applied on top.
type WatchFilter struct {
	Keys       []string   `json:"keys,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Channels   []string   `json:"channels,omitempty"`
	Priorities []Priority `json:"priorities,omitempty"`
}

// Matches reports whether the event passes the filter, including the
// privacy rule relative to the watcher's owning session.
func (f *WatchFilter) Matches(ev *MutationEvent, viewerSession string) bool {
	if ev.IsPrivate && ev.SessionID != viewerSession {
		return false
	}
	if len(f.Keys) > 0 && !containsString(f.Keys, ev.Key) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, ev.Category) {
		return false
	}
	if len(f.Channels) > 0 && !containsString(f.Channels, ev.Channel) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, ev.Priority) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCategory(list []Category, c Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsPriority(list []Priority, p Priority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// SearchOptions is the single query shape behind both textual search and
// filtered listing. SessionID identifies the viewer and feeds ONLY the
// privacy predicate, never an equality filter.
type SearchOptions struct {
	Query           string
	SearchIn        []string // subset of {"key","value"}; empty means both
	SessionID       string
	Category        *Category
	Channels        []string
	Priorities      []Priority
	KeyPattern      string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Sort            SortOrder
	Limit           int
	Offset          int
	IncludeMetadata bool

	// ExplicitUnlimited marks that the caller passed limit=0 on purpose;
	// the argument decoder sets it before Normalize runs.
	ExplicitUnlimited bool

	// Set by Normalize when a caller value was missing or unusable.
	DefaultedLimit bool
	DefaultedSort  bool
}

// Normalize applies the documented defaults: limit 1-100 (0 = unlimited,
// negative → default), offset ≥ 0, sort created_desc. Records which
// defaults were applied so the pagination envelope can report them.
func (o *SearchOptions) Normalize() {
	if o.Limit < 0 {
		o.Limit = DefaultSearchLimit
		o.DefaultedLimit = true
	} else if o.Limit > DefaultSearchLimit {
		o.Limit = DefaultSearchLimit
	}
	if o.Limit == 0 && !o.ExplicitUnlimited {
		o.Limit = DefaultSearchLimit
		o.DefaultedLimit = true
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Sort == "" || !o.Sort.IsValid() {
		// unrecognized sorts fall back rather than erroring
		o.Sort = SortCreatedDesc
		o.DefaultedSort = true
	}
	for i, f := range o.SearchIn {
		o.SearchIn[i] = strings.ToLower(strings.TrimSpace(f))
	}
}

// Pagination describes the window of a search result.
type Pagination struct {
	Page            int             `json:"page"`
	PageSize        int             `json:"pageSize"`
	TotalPages      int             `json:"totalPages"`
	HasNextPage     bool            `json:"hasNextPage"`
	HasPreviousPage bool            `json:"hasPreviousPage"`
	NextOffset      *int            `json:"nextOffset"`
	PreviousOffset  *int            `json:"previousOffset"`
	DefaultsApplied DefaultsApplied `json:"defaultsApplied"`
}

// DefaultsApplied reports which search options were defaulted.
type DefaultsApplied struct {
	Limit bool `json:"limit"`
	Sort  bool `json:"sort"`
}

// SearchResult is the unified engine's return shape. TotalCount is computed
// under the same predicates as Items, without pagination.
type SearchResult struct {
	Items      []*ContextItem `json:"items"`
	TotalCount int            `json:"totalCount"`
	Pagination Pagination     `json:"pagination"`
}

// BatchItemResult is the per-element outcome of a batch operation.
type BatchItemResult struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"` // "created", "updated", "deleted"
	Error   string `json:"error,omitempty"`

	// Item carries the committed row for event emission. Not serialized.
	Item *ContextItem `json:"-"`
}

// BatchResult aggregates a batch run. Failed elements never roll back
// successful siblings; only catastrophic errors abort the transaction.
type BatchResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
	DryRun    bool              `json:"dryRun,omitempty"`
}

// BatchSaveInput is one element of a batch_save request.
type BatchSaveInput struct {
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	Category  Category        `json:"category,omitempty"`
	Priority  Priority        `json:"priority,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IsPrivate *bool           `json:"isPrivate,omitempty"`
}

// BatchUpdateInput is one element of a batch_update request. Only non-nil
// fields are applied.
type BatchUpdateInput struct {
	Key      string    `json:"key,omitempty"`
	Value    *string   `json:"value,omitempty"`
	Category *Category `json:"category,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Channel  *string   `json:"channel,omitempty"`
}

// SessionStats aggregates one session's footprint.
type SessionStats struct {
	SessionID         string            `json:"session_id"`
	ItemCount         int               `json:"item_count"`
	TotalBytes        int64             `json:"total_bytes"`
	ByCategory        map[Category]int  `json:"by_category"`
	ByChannel         map[string]int    `json:"by_channel"`
	ByPriority        map[Priority]int  `json:"by_priority"`
	RelationshipCount int               `json:"relationship_count"`
	CheckpointCount   int               `json:"checkpoint_count"`
	JournalCount      int               `json:"journal_count"`
}

// RetentionPolicy bounds item age or count for a category or channel.
// Zero MaxAgeDays/MaxCount means unbounded on that axis.
type RetentionPolicy struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   Category  `json:"category,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	MaxAgeDays int       `json:"max_age_days,omitempty"`
	MaxCount   int       `json:"max_count,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeatureFlag is a named toggle persisted with the store.
type FeatureFlag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileCacheEntry records a hashed file snapshot for checkpoint linking.
type FileCacheEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content,omitempty"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimelineBucket is one period of the timeline view.
type TimelineBucket struct {
	Period     string           `json:"period"`
	ItemCount  int              `json:"item_count"`
	ByCategory map[Category]int `json:"by_category,omitempty"`
	Journal    []*JournalEntry  `json:"journal,omitempty"`
	Items      []*ContextItem   `json:"items,omitempty"`
}
