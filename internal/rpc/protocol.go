// Package rpc implements the engine's tool surface: line-delimited JSON
// requests over stdio or a unix socket, dispatched to the storage layer.
package rpc

import (
	"encoding/json"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Operation names. These are the wire-visible tool names; renaming one is
// a breaking protocol change.
const (
	OpSessionStart  = "session_start"
	OpSessionList   = "session_list"
	OpSetProjectDir = "set_project_dir"

	OpSave   = "save"
	OpGet    = "get"
	OpDelete = "delete"

	OpSearch    = "search"
	OpSearchAll = "search_all"

	OpBatchSave   = "batch_save"
	OpBatchDelete = "batch_delete"
	OpBatchUpdate = "batch_update"

	OpLink       = "link"
	OpGetRelated = "get_related"

	OpCheckpoint        = "checkpoint"
	OpRestoreCheckpoint = "restore_checkpoint"
	OpBranchSession     = "branch_session"
	OpMergeSessions     = "merge_sessions"

	OpCompress     = "compress"
	OpTimeline     = "timeline"
	OpJournalEntry = "journal_entry"

	OpWatch           = "watch"
	OpReassignChannel = "reassign_channel"

	OpAdmin = "admin"

	OpPing     = "ping"
	OpHealth   = "health"
	OpStatus   = "status"
	OpShutdown = "shutdown"
)

// Request is one client-to-engine message.
type Request struct {
	Tool          string          `json:"tool"`
	Args          json.RawMessage `json:"arguments,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`

	// ExpectedDB guards against connecting to a daemon serving a
	// different workspace. Empty skips the check.
	ExpectedDB string `json:"expected_db,omitempty"`
}

// Response is one engine-to-client message. Code is set only on failure
// and carries the machine-readable error kind.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// SessionStartArgs creates or resumes a session. Parent records lineage
// to an existing session; Branch pins the git branch instead of probing
// the working directory.
type SessionStartArgs struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Channel     string `json:"channel,omitempty"`
	WorkingDir  string `json:"workingDir,omitempty"`
	Parent      string `json:"parent,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Continue    string `json:"continue,omitempty"`
}

// SessionListArgs bounds the session listing.
type SessionListArgs struct {
	Limit int `json:"limit,omitempty"`
}

// SetProjectDirArgs sets the process-wide default working directory for
// git tracking.
type SetProjectDirArgs struct {
	Path string `json:"path"`
}

// SaveArgs upserts one item into the current session.
type SaveArgs struct {
	SessionID string          `json:"sessionId,omitempty"`
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	Category  string          `json:"category,omitempty"`
	Priority  string          `json:"priority,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IsPrivate bool            `json:"isPrivate,omitempty"`
}

// SaveResponse reports the committed row and whether it was new.
type SaveResponse struct {
	Item   *types.ContextItem `json:"item"`
	Action string             `json:"action"` // "created" or "updated"
}

// GetArgs fetches one item by key under the privacy rule.
type GetArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	Key       string `json:"key"`
}

// DeleteArgs removes one own-session item and its relationships.
type DeleteArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	Key       string `json:"key"`
}

// SearchArgs is the unified search/query surface. search scopes the
// viewer to its own session by default; search_all spans sessions but
// keeps the privacy rule.
type SearchArgs struct {
	SessionID     string   `json:"sessionId,omitempty"`
	Query         string   `json:"query,omitempty"`
	SearchIn      []string `json:"searchIn,omitempty"`
	Category      string   `json:"category,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Priorities    []string `json:"priorities,omitempty"`
	KeyPattern    string   `json:"keyPattern,omitempty"`
	CreatedAfter  string   `json:"createdAfter,omitempty"`
	CreatedBefore string   `json:"createdBefore,omitempty"`
	Sort          string   `json:"sort,omitempty"`
	Limit         *int     `json:"limit,omitempty"`
	Offset        int      `json:"offset,omitempty"`
	IncludeMeta   bool     `json:"includeMetadata,omitempty"`
}

// BatchSaveArgs saves up to MaxBatchSize items in one transaction.
type BatchSaveArgs struct {
	SessionID string                 `json:"sessionId,omitempty"`
	Items     []types.BatchSaveInput `json:"items"`
}

// BatchDeleteArgs deletes by keys, glob pattern, or channel.
type BatchDeleteArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	types.BatchDeleteRequest
}

// BatchUpdateArgs applies per-key updates or one pattern-wide field set.
type BatchUpdateArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	types.BatchUpdateRequest
}

// LinkArgs adds a typed directed edge between two items.
type LinkArgs struct {
	SessionID string          `json:"sessionId,omitempty"`
	FromKey   string          `json:"fromKey"`
	ToKey     string          `json:"toKey"`
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// GetRelatedArgs traverses the relationship graph from one key.
type GetRelatedArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	Key       string `json:"key"`
	types.RelatedOptions
}

// CheckpointArgs snapshots the current session. Action "list" returns
// existing checkpoints instead.
type CheckpointArgs struct {
	SessionID   string `json:"sessionId,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	List        bool   `json:"list,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// RestoreCheckpointArgs restores a snapshot into a fresh session.
type RestoreCheckpointArgs struct {
	Ref            string `json:"ref"`
	NewSessionName string `json:"newSessionName,omitempty"`
	RestoreFiles   bool   `json:"restoreFiles,omitempty"`
}

// BranchSessionArgs forks the current session.
type BranchSessionArgs struct {
	SessionID  string `json:"sessionId,omitempty"`
	BranchName string `json:"branchName"`
	Depth      string `json:"depth,omitempty"` // "shallow" or "deep"
}

// MergeSessionsArgs merges a source session into a target.
type MergeSessionsArgs struct {
	SourceSessionID string `json:"sourceSessionId"`
	TargetSessionID string `json:"targetSessionId,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
}

// MergeResponse reports the merge outcome.
type MergeResponse struct {
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

// CompressArgs compacts items older than a cutoff. OlderThan accepts
// ISO-8601 or relative forms ("2 days ago", "7d").
type CompressArgs struct {
	SessionID          string   `json:"sessionId,omitempty"`
	OlderThan          string   `json:"olderThan"`
	PreserveCategories []string `json:"preserveCategories,omitempty"`
	TargetSize         int      `json:"targetSize,omitempty"`
	DryRun             bool     `json:"dryRun,omitempty"`
	ListBuckets        bool     `json:"listBuckets,omitempty"`
	Limit              int      `json:"limit,omitempty"`
}

// TimelineArgs buckets activity per hour or day.
type TimelineArgs struct {
	SessionID    string `json:"sessionId,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	GroupBy      string `json:"groupBy,omitempty"`
	IncludeItems bool   `json:"includeItems,omitempty"`
}

// JournalEntryArgs appends a journal note. List flips to reading.
type JournalEntryArgs struct {
	SessionID string   `json:"sessionId,omitempty"`
	Entry     string   `json:"entry,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Mood      string   `json:"mood,omitempty"`
	List      bool     `json:"list,omitempty"`
	Since     string   `json:"since,omitempty"`
	Until     string   `json:"until,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// WatchArgs multiplexes the watcher lifecycle on one tool.
type WatchArgs struct {
	Action    string            `json:"action"` // "create", "poll", "cancel"
	SessionID string            `json:"sessionId,omitempty"`
	WatcherID string            `json:"watcherId,omitempty"`
	Filter    types.WatchFilter `json:"filter,omitempty"`
	StartFrom uint64            `json:"startFromSequence,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Max       int               `json:"max,omitempty"`
}

// WatchCreateResponse reports the new watcher and the current sequence.
type WatchCreateResponse struct {
	WatcherID       string `json:"watcherId"`
	CurrentSequence uint64 `json:"currentSequence"`
}

// ReassignChannelArgs moves items between channels.
type ReassignChannelArgs struct {
	SessionID string `json:"sessionId,omitempty"`
	types.ReassignRequest
}

// AdminArgs multiplexes administrative actions: "retention_set",
// "retention_list", "retention_delete", "retention_apply", "flag_set",
// "flag_get", "flag_list", "migrate_status", "migrate_rollback",
// "export", "import", "stats".
type AdminArgs struct {
	Action string `json:"action"`

	Policy *types.RetentionPolicy `json:"policy,omitempty"`
	ID     string                 `json:"id,omitempty"`
	DryRun bool                   `json:"dryRun,omitempty"`

	Flag *types.FeatureFlag `json:"flag,omitempty"`
	Name string             `json:"name,omitempty"`

	SessionID string `json:"sessionId,omitempty"`
	Path      string `json:"path,omitempty"`
	Format    string `json:"format,omitempty"`
}

// ExportResponse reports one export or import run.
type ExportResponse struct {
	Path     string `json:"path,omitempty"`
	Count    int    `json:"count,omitempty"`
	Imported int    `json:"imported,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
}

// PingResponse answers ping.
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse reports engine liveness for client probes.
type HealthResponse struct {
	Status         string  `json:"status"` // healthy, degraded, unhealthy
	Version        string  `json:"version"`
	ClientVersion  string  `json:"client_version,omitempty"`
	Compatible     bool    `json:"compatible"`
	Uptime         float64 `json:"uptime_seconds"`
	DBResponseTime float64 `json:"db_response_ms"`
	ActiveConns    int32   `json:"active_conns"`
	MaxConns       int     `json:"max_conns"`
	Error          string  `json:"error,omitempty"`
}

// StatusResponse is the status tool payload.
type StatusResponse struct {
	Version          string               `json:"version"`
	WorkspacePath    string               `json:"workspace_path"`
	DatabasePath     string               `json:"database_path"`
	SocketPath       string               `json:"socket_path,omitempty"`
	PID              int                  `json:"pid"`
	UptimeSeconds    float64              `json:"uptime_seconds"`
	LastActivityTime string               `json:"last_activity_time"`
	CurrentSession   *types.Session       `json:"current_session,omitempty"`
	Watchers         int                  `json:"watchers"`
	Sequence         uint64               `json:"sequence"`
	Database         *types.DatabaseStats `json:"database,omitempty"`
	SessionStats     *types.SessionStats  `json:"session_stats,omitempty"`
}
