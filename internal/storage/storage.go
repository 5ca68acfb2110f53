// Package storage defines the interface for context storage backends.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Store defines the interface for context storage backends.
//
// Every read that can cross session boundaries applies the privacy rule:
// an item is visible when it is public or owned by the viewing session.
// Implementations enforce this inside the query, never in post-filtering,
// so pagination counts stay consistent with the returned page.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetSessionByName(ctx context.Context, name string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*types.Session, error)
	UpdateSession(ctx context.Context, id string, updates map[string]interface{}) error
	SessionStats(ctx context.Context, id string) (*types.SessionStats, error)

	// Items
	//
	// SaveItem upserts on (session_id, key) and reports "created" or
	// "updated". GetItemByKey resolves the viewer's own item first, then
	// the most recent public item under the same key from any session.
	SaveItem(ctx context.Context, item *types.ContextItem) (string, error)
	GetItemByKey(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error)
	GetOwnItem(ctx context.Context, sessionID, key string) (*types.ContextItem, error)
	DeleteItem(ctx context.Context, sessionID, key string) (*types.ContextItem, error)
	SearchItems(ctx context.Context, opts types.SearchOptions) (*types.SearchResult, error)
	CopyItems(ctx context.Context, sourceSessionID, targetSessionID string, keys []string) (int, []string, error)
	ReassignChannel(ctx context.Context, req types.ReassignRequest) (*types.ReassignResult, error)

	// Batch
	//
	// All three run in a single transaction. Per-element failures are
	// collected into the result and do not roll back succeeded siblings;
	// only infrastructure errors abort the whole batch.
	BatchSave(ctx context.Context, sessionID string, items []types.BatchSaveInput, defaultChannel string) (*types.BatchResult, error)
	BatchUpdate(ctx context.Context, sessionID string, req types.BatchUpdateRequest) (*types.BatchResult, error)
	BatchDelete(ctx context.Context, sessionID string, req types.BatchDeleteRequest) (*types.BatchResult, error)

	// Relationships
	AddRelationship(ctx context.Context, rel *types.Relationship) error
	GetRelated(ctx context.Context, sessionID, key string, opts types.RelatedOptions) ([]*types.RelatedItem, error)
	DetectCycles(ctx context.Context, sessionID string) ([][]string, error)
	RelationshipStats(ctx context.Context, sessionID string, topN int) (*types.RelationshipStats, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, sessionID, ref string) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*types.Checkpoint, error)
	CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error)
	RestoreCheckpoint(ctx context.Context, ref string, opts types.RestoreOptions) (*types.Session, int, error)
	BranchSession(ctx context.Context, sourceSessionID, branchName string, depth types.CopyDepth) (*types.Session, int, error)
	MergeSessions(ctx context.Context, sourceSessionID, targetSessionID string, strategy types.MergeStrategy) (int, int, error)

	// Compression
	//
	// ListCompressible selects eligible items; ApplyCompression inserts the
	// bucket and deletes the originals in the same transaction.
	ListCompressible(ctx context.Context, req types.CompressRequest) ([]*types.ContextItem, error)
	ApplyCompression(ctx context.Context, bucket *types.CompressedBucket, itemIDs []string) error
	ListCompressedBuckets(ctx context.Context, sessionID string, limit int) ([]*types.CompressedBucket, error)

	// Journal and timeline
	AddJournalEntry(ctx context.Context, entry *types.JournalEntry) error
	ListJournal(ctx context.Context, sessionID string, since, until *time.Time, limit int) ([]*types.JournalEntry, error)
	Timeline(ctx context.Context, req types.TimelineRequest) ([]*types.TimelineBucket, error)

	// Tool event audit trail
	RecordToolEvent(ctx context.Context, ev *types.ToolEvent) error
	ListToolEvents(ctx context.Context, sessionID string, limit int) ([]*types.ToolEvent, error)

	// File cache
	UpsertFileCache(ctx context.Context, entry *types.FileCacheEntry) error
	GetFileCache(ctx context.Context, sessionID, filePath string) (*types.FileCacheEntry, error)
	ListFileCache(ctx context.Context, sessionID string) ([]*types.FileCacheEntry, error)

	// Retention policies
	SetRetentionPolicy(ctx context.Context, policy *types.RetentionPolicy) error
	ListRetentionPolicies(ctx context.Context) ([]*types.RetentionPolicy, error)
	DeleteRetentionPolicy(ctx context.Context, id string) error
	ApplyRetention(ctx context.Context, dryRun bool) (*types.RetentionResult, error)

	// Feature flags
	SetFeatureFlag(ctx context.Context, flag *types.FeatureFlag) error
	GetFeatureFlag(ctx context.Context, name string) (*types.FeatureFlag, error)
	ListFeatureFlags(ctx context.Context) ([]*types.FeatureFlag, error)

	// Metadata (internal state like schema hints and import markers)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Migrations
	MigrationStatus(ctx context.Context) ([]types.MigrationRecord, error)
	PendingMigrations(ctx context.Context) ([]string, error)
	RollbackLastMigration(ctx context.Context) error

	// Statistics
	DatabaseStats(ctx context.Context) (*types.DatabaseStats, error)

	// Lifecycle
	Close() error

	// Path returns the database location (for daemon validation and status).
	Path() string

	// UnderlyingDB exposes the raw handle for extensions and tests.
	// Callers must not close it or change pool settings or pragmas.
	UnderlyingDB() *sql.DB
}
