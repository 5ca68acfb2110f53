package types

import "time"

// RelatedOptions controls graph traversal for get_related.
type RelatedOptions struct {
	Types        []RelationType `json:"types,omitempty"`
	Direction    string         `json:"direction,omitempty"` // "outgoing", "incoming", "both"
	MaxDepth     int            `json:"maxDepth,omitempty"`
	IncludeItems bool           `json:"includeItems,omitempty"`
}

// BatchUpdateRequest carries either per-key updates or one field set
// applied to every key matching a glob pattern.
type BatchUpdateRequest struct {
	Updates    []BatchUpdateInput `json:"updates,omitempty"`
	KeyPattern string             `json:"keyPattern,omitempty"`
	Fields     *BatchUpdateInput  `json:"fields,omitempty"`
}

// BatchDeleteRequest selects items by explicit keys, glob pattern, or a
// whole channel. DryRun reports the would-be-deleted set without mutating.
type BatchDeleteRequest struct {
	Keys       []string `json:"keys,omitempty"`
	KeyPattern string   `json:"keyPattern,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	DryRun     bool     `json:"dryRun,omitempty"`
}

// ReassignRequest moves items between channels.
type ReassignRequest struct {
	SessionID   string    `json:"sessionId"`
	Keys        []string  `json:"keys,omitempty"`
	KeyPattern  string    `json:"keyPattern,omitempty"`
	FromChannel string    `json:"fromChannel,omitempty"`
	ToChannel   string    `json:"toChannel"`
	Category    *Category `json:"category,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DryRun      bool      `json:"dryRun,omitempty"`
}

// ReassignResult reports which items moved (or would move, under dryRun).
type ReassignResult struct {
	Moved  int      `json:"moved"`
	Keys   []string `json:"keys"`
	DryRun bool     `json:"dryRun,omitempty"`

	// Items carries the updated rows for event emission. Not serialized.
	Items []*ContextItem `json:"-"`
}

// CompressRequest selects items for compression.
type CompressRequest struct {
	SessionID          string     `json:"sessionId"`
	OlderThan          time.Time  `json:"olderThan"`
	PreserveCategories []Category `json:"preserveCategories,omitempty"`
	TargetSize         int        `json:"targetSize,omitempty"`
}

// TimelineRequest selects the period and grain of a timeline view.
type TimelineRequest struct {
	SessionID    string     `json:"sessionId"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	GroupBy      string     `json:"groupBy,omitempty"` // "hour" or "day"
	IncludeItems bool       `json:"includeItems,omitempty"`
}

// RetentionResult reports one retention sweep.
type RetentionResult struct {
	PolicyRuns []RetentionPolicyRun `json:"policy_runs"`
	Deleted    int                  `json:"deleted"`
	DryRun     bool                 `json:"dryRun,omitempty"`
}

// RetentionPolicyRun is the per-policy breakdown of a sweep.
type RetentionPolicyRun struct {
	PolicyID   string   `json:"policy_id"`
	PolicyName string   `json:"policy_name"`
	Matched    int      `json:"matched"`
	Keys       []string `json:"keys,omitempty"`
}

// RestoreOptions controls checkpoint restoration.
type RestoreOptions struct {
	RestoreFiles   bool   `json:"restoreFiles,omitempty"`
	NewSessionName string `json:"newSessionName,omitempty"`
}

// MigrationRecord is one row of the migrations log.
type MigrationRecord struct {
	Version         int       `json:"version"`
	Name            string    `json:"name"`
	AppliedAt       time.Time `json:"applied_at"`
	Success         bool      `json:"success"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Error           string    `json:"error,omitempty"`
}

// DatabaseStats summarizes the whole store for the status tool.
type DatabaseStats struct {
	Sessions          int   `json:"sessions"`
	Items             int   `json:"items"`
	PrivateItems      int   `json:"private_items"`
	Relationships     int   `json:"relationships"`
	Checkpoints       int   `json:"checkpoints"`
	CompressedBuckets int   `json:"compressed_buckets"`
	JournalEntries    int   `json:"journal_entries"`
	SizeBytes         int64 `json:"size_bytes"`
}
