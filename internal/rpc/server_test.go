package rpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "context.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	s := NewServer("", store, t.TempDir())
	t.Cleanup(func() {
		_ = s.Stop()
		_ = store.Close()
	})
	return s
}

func call(t *testing.T, s *Server, tool string, args interface{}) Response {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			t.Fatalf("failed to encode args for %s: %v", tool, err)
		}
		raw = data
	}
	return s.handleRequest(&Request{Tool: tool, Args: raw, Actor: "test", RequestID: "req-" + tool})
}

func mustCall(t *testing.T, s *Server, tool string, args, out interface{}) {
	t.Helper()
	resp := call(t, s, tool, args)
	if !resp.Success {
		t.Fatalf("%s failed: %s (%s)", tool, resp.Error, resp.Code)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			t.Fatalf("failed to decode %s response: %v", tool, err)
		}
	}
}

func startSession(t *testing.T, s *Server, name string) *types.Session {
	t.Helper()
	var sess types.Session
	mustCall(t, s, OpSessionStart, SessionStartArgs{Name: name}, &sess)
	return &sess
}

func saveOne(t *testing.T, s *Server, sessionID, key, value string, private bool) *types.ContextItem {
	t.Helper()
	var out SaveResponse
	mustCall(t, s, OpSave, SaveArgs{SessionID: sessionID, Key: key, Value: value, IsPrivate: private}, &out)
	return out.Item
}

func TestSaveRequiresSession(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpSave, SaveArgs{Key: "k", Value: "v"})
	if resp.Success {
		t.Fatal("save without a session should fail")
	}
	if resp.Code != "FailedPrecondition" {
		t.Errorf("code = %q, want FailedPrecondition", resp.Code)
	}
}

func TestSaveGetDeleteRoundTrip(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")

	var saved SaveResponse
	mustCall(t, s, OpSave, SaveArgs{Key: "decision", Value: "use sqlite"}, &saved)
	if saved.Action != "created" {
		t.Errorf("action = %q, want created", saved.Action)
	}
	if saved.Item.SessionID != sess.ID {
		t.Errorf("item landed in session %s, want %s", saved.Item.SessionID, sess.ID)
	}

	mustCall(t, s, OpSave, SaveArgs{Key: "decision", Value: "use sqlite with wal"}, &saved)
	if saved.Action != "updated" {
		t.Errorf("second save action = %q, want updated", saved.Action)
	}

	var got types.ContextItem
	mustCall(t, s, OpGet, GetArgs{Key: "decision"}, &got)
	if got.Value != "use sqlite with wal" {
		t.Errorf("got value %q", got.Value)
	}

	mustCall(t, s, OpDelete, DeleteArgs{Key: "decision"}, nil)
	resp := call(t, s, OpGet, GetArgs{Key: "decision"})
	if resp.Success || resp.Code != "NotFound" {
		t.Errorf("get after delete: success=%v code=%q", resp.Success, resp.Code)
	}
}

func TestSearchAppliesPrivacyRule(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "owner")
	saveOne(t, s, owner.ID, "public-note", "shared fact", false)
	saveOne(t, s, owner.ID, "secret-note", "private fact", true)
	viewer := startSession(t, s, "viewer")

	for _, tool := range []string{OpSearch, OpSearchAll} {
		var result types.SearchResult
		mustCall(t, s, tool, SearchArgs{SessionID: viewer.ID, Query: "fact"}, &result)
		if result.TotalCount != 1 {
			t.Fatalf("%s: TotalCount = %d, want 1", tool, result.TotalCount)
		}
		if result.Items[0].Key != "public-note" {
			t.Errorf("%s: saw %q, want public-note", tool, result.Items[0].Key)
		}
	}

	// The owner sees its own private item.
	var result types.SearchResult
	mustCall(t, s, OpSearch, SearchArgs{SessionID: owner.ID, Query: "fact"}, &result)
	if result.TotalCount != 2 {
		t.Errorf("owner TotalCount = %d, want 2", result.TotalCount)
	}
}

func TestSearchRejectsBadTimeBound(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")

	resp := call(t, s, OpSearch, SearchArgs{SessionID: sess.ID, CreatedAfter: "not-a-time-zzz"})
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("success=%v code=%q, want InvalidArgument", resp.Success, resp.Code)
	}
}

func TestBatchSaveAndDelete(t *testing.T) {
	s := newTestServer(t)
	startSession(t, s, "work")

	var result types.BatchResult
	mustCall(t, s, OpBatchSave, BatchSaveArgs{Items: []types.BatchSaveInput{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	}}, &result)
	if result.Succeeded != 2 || result.Failed != 0 {
		t.Fatalf("batch_save succeeded=%d failed=%d", result.Succeeded, result.Failed)
	}

	mustCall(t, s, OpBatchDelete, BatchDeleteArgs{
		BatchDeleteRequest: types.BatchDeleteRequest{Keys: []string{"a", "b"}},
	}, &result)
	if result.Succeeded != 2 {
		t.Errorf("batch_delete succeeded=%d, want 2", result.Succeeded)
	}
}

func TestBatchUpdate(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "a", "old", false)

	newValue := "new"
	var result types.BatchResult
	mustCall(t, s, OpBatchUpdate, BatchUpdateArgs{
		BatchUpdateRequest: types.BatchUpdateRequest{
			Updates: []types.BatchUpdateInput{{Key: "a", Value: &newValue}},
		},
	}, &result)
	if result.Succeeded != 1 {
		t.Fatalf("succeeded=%d, want 1", result.Succeeded)
	}

	var got types.ContextItem
	mustCall(t, s, OpGet, GetArgs{Key: "a"}, &got)
	if got.Value != "new" {
		t.Errorf("value = %q after batch_update", got.Value)
	}
}

func TestLinkAndGetRelated(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "feature", "the feature", false)
	saveOne(t, s, sess.ID, "task", "a task", false)

	var rel types.Relationship
	mustCall(t, s, OpLink, LinkArgs{FromKey: "feature", ToKey: "task", Type: "contains"}, &rel)
	if rel.ID == "" {
		t.Error("relationship id not assigned")
	}

	var related struct {
		Key     string               `json:"key"`
		Related []*types.RelatedItem `json:"related"`
	}
	mustCall(t, s, OpGetRelated, GetRelatedArgs{Key: "feature"}, &related)
	if len(related.Related) != 1 || related.Related[0].Key != "task" {
		t.Errorf("related = %+v, want one hop to task", related.Related)
	}
}

func TestLinkRejectsUnknownType(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "a", "1", false)
	saveOne(t, s, sess.ID, "b", "2", false)

	resp := call(t, s, OpLink, LinkArgs{FromKey: "a", ToKey: "b", Type: "sibling_of"})
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("success=%v code=%q, want InvalidArgument", resp.Success, resp.Code)
	}
}

func TestCheckpointAndRestore(t *testing.T) {
	s := newTestServer(t)
	original := startSession(t, s, "work")
	saveOne(t, s, original.ID, "a", "1", false)
	saveOne(t, s, original.ID, "b", "2", true)

	var cp types.Checkpoint
	mustCall(t, s, OpCheckpoint, CheckpointArgs{Name: "before-refactor"}, &cp)
	if cp.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", cp.ItemCount)
	}

	var list []*types.Checkpoint
	mustCall(t, s, OpCheckpoint, CheckpointArgs{List: true}, &list)
	if len(list) != 1 {
		t.Fatalf("listed %d checkpoints, want 1", len(list))
	}

	var restored struct {
		Session  *types.Session `json:"session"`
		Restored int            `json:"restored"`
	}
	mustCall(t, s, OpRestoreCheckpoint, RestoreCheckpointArgs{Ref: "before-refactor"}, &restored)
	if restored.Restored != 2 {
		t.Errorf("restored %d items, want 2", restored.Restored)
	}
	if restored.Session.ID == original.ID {
		t.Error("restore should land in a fresh session")
	}
	if s.Sessions().CurrentID() != restored.Session.ID {
		t.Error("restore should switch the current session")
	}
}

func TestBranchSession(t *testing.T) {
	s := newTestServer(t)
	trunk := startSession(t, s, "trunk")
	saveOne(t, s, trunk.ID, "shared", "fact", false)

	var branched struct {
		Session *types.Session `json:"session"`
		Copied  int            `json:"copied"`
	}
	mustCall(t, s, OpBranchSession, BranchSessionArgs{BranchName: "experiment"}, &branched)
	if branched.Copied != 1 {
		t.Errorf("copied = %d, want 1", branched.Copied)
	}
	if branched.Session.ParentID != trunk.ID {
		t.Errorf("ParentID = %q, want %q", branched.Session.ParentID, trunk.ID)
	}
	if s.Sessions().CurrentID() != branched.Session.ID {
		t.Error("branch should switch the current session")
	}
}

func TestMergeSessions(t *testing.T) {
	s := newTestServer(t)
	source := startSession(t, s, "source")
	saveOne(t, s, source.ID, "only-in-source", "x", false)
	saveOne(t, s, source.ID, "conflict", "from source", false)
	target := startSession(t, s, "target")
	saveOne(t, s, target.ID, "conflict", "from target", false)

	var merged MergeResponse
	mustCall(t, s, OpMergeSessions, MergeSessionsArgs{SourceSessionID: source.ID}, &merged)
	if merged.Merged != 1 || merged.Skipped != 1 {
		t.Errorf("merged=%d skipped=%d, want 1/1", merged.Merged, merged.Skipped)
	}

	var got types.ContextItem
	mustCall(t, s, OpGet, GetArgs{SessionID: target.ID, Key: "conflict"}, &got)
	if got.Value != "from target" {
		t.Errorf("keep_current overwrote the target: %q", got.Value)
	}
}

func TestCompressDryRunAndApply(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "old-1", "aged fact one", false)
	saveOne(t, s, sess.ID, "old-2", "aged fact two", false)

	resp := call(t, s, OpCompress, CompressArgs{})
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Fatalf("compress without olderThan: success=%v code=%q", resp.Success, resp.Code)
	}

	var dry struct {
		ItemsCompressed int  `json:"itemsCompressed"`
		DryRun          bool `json:"dryRun"`
	}
	mustCall(t, s, OpCompress, CompressArgs{OlderThan: "2099-01-01", DryRun: true}, &dry)
	if dry.ItemsCompressed != 2 || !dry.DryRun {
		t.Fatalf("dry run = %+v", dry)
	}

	var result struct {
		Bucket          *types.CompressedBucket `json:"bucket"`
		ItemsCompressed int                     `json:"itemsCompressed"`
	}
	mustCall(t, s, OpCompress, CompressArgs{OlderThan: "2099-01-01"}, &result)
	if result.ItemsCompressed != 2 || result.Bucket == nil {
		t.Fatalf("compress = %+v", result)
	}

	var search types.SearchResult
	mustCall(t, s, OpSearch, SearchArgs{SessionID: sess.ID}, &search)
	if search.TotalCount != 0 {
		t.Errorf("originals survived compression: %d left", search.TotalCount)
	}

	var buckets []*types.CompressedBucket
	mustCall(t, s, OpCompress, CompressArgs{ListBuckets: true}, &buckets)
	if len(buckets) != 1 {
		t.Errorf("listed %d buckets, want 1", len(buckets))
	}
}

func TestJournalAppendAndList(t *testing.T) {
	s := newTestServer(t)
	startSession(t, s, "work")

	var entry types.JournalEntry
	mustCall(t, s, OpJournalEntry, JournalEntryArgs{Entry: "switched to the new parser", Mood: "focused"}, &entry)
	if entry.ID == "" {
		t.Error("journal entry id not assigned")
	}

	var entries []*types.JournalEntry
	mustCall(t, s, OpJournalEntry, JournalEntryArgs{List: true}, &entries)
	if len(entries) != 1 || entries[0].Entry != "switched to the new parser" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestTimeline(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "a", "1", false)
	saveOne(t, s, sess.ID, "b", "2", false)

	var buckets []*types.TimelineBucket
	mustCall(t, s, OpTimeline, TimelineArgs{GroupBy: "day"}, &buckets)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}
	if buckets[0].ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", buckets[0].ItemCount)
	}
}

func TestWatchLifecycle(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")

	var created WatchCreateResponse
	mustCall(t, s, OpWatch, WatchArgs{Action: "create"}, &created)
	if created.WatcherID == "" {
		t.Fatal("watcher id not assigned")
	}

	saveOne(t, s, sess.ID, "observed", "value", false)

	var poll struct {
		Events       []*types.MutationEvent `json:"events"`
		NextSequence uint64                 `json:"nextSequence"`
	}
	mustCall(t, s, OpWatch, WatchArgs{Action: "poll", WatcherID: created.WatcherID, TimeoutMs: 100}, &poll)
	if len(poll.Events) != 1 || poll.Events[0].Key != "observed" {
		t.Fatalf("poll events = %+v", poll.Events)
	}

	mustCall(t, s, OpWatch, WatchArgs{Action: "cancel", WatcherID: created.WatcherID}, nil)
	resp := call(t, s, OpWatch, WatchArgs{Action: "poll", WatcherID: created.WatcherID, TimeoutMs: 10})
	if resp.Success {
		t.Error("poll on a cancelled watcher should fail")
	}

	resp = call(t, s, OpWatch, WatchArgs{Action: "resume"})
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("unknown action: success=%v code=%q", resp.Success, resp.Code)
	}
}

func TestAdminFlagsAndRetention(t *testing.T) {
	s := newTestServer(t)

	mustCall(t, s, OpAdmin, AdminArgs{Action: "flag_set", Flag: &types.FeatureFlag{Name: "semantic-index", Enabled: true}}, nil)

	var flag types.FeatureFlag
	mustCall(t, s, OpAdmin, AdminArgs{Action: "flag_get", Name: "semantic-index"}, &flag)
	if !flag.Enabled {
		t.Error("flag should be enabled")
	}

	var policy types.RetentionPolicy
	mustCall(t, s, OpAdmin, AdminArgs{Action: "retention_set", Policy: &types.RetentionPolicy{
		Name: "trim-notes", Category: types.CategoryNote, MaxAgeDays: 7, Enabled: true,
	}}, &policy)
	if policy.ID == "" {
		t.Fatal("policy id not assigned")
	}

	var policies []*types.RetentionPolicy
	mustCall(t, s, OpAdmin, AdminArgs{Action: "retention_list"}, &policies)
	if len(policies) != 1 {
		t.Fatalf("listed %d policies, want 1", len(policies))
	}

	var sweep types.RetentionResult
	mustCall(t, s, OpAdmin, AdminArgs{Action: "retention_apply", DryRun: true}, &sweep)
	if !sweep.DryRun {
		t.Error("sweep should report dryRun")
	}

	mustCall(t, s, OpAdmin, AdminArgs{Action: "retention_delete", ID: policy.ID}, nil)

	resp := call(t, s, OpAdmin, AdminArgs{Action: "defrag"})
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("unknown action: success=%v code=%q", resp.Success, resp.Code)
	}
}

func TestAdminExportImport(t *testing.T) {
	s := newTestServer(t)
	source := startSession(t, s, "source")
	saveOne(t, s, source.ID, "exported", "value", false)

	path := filepath.Join(t.TempDir(), "dump.jsonl")
	var exported ExportResponse
	mustCall(t, s, OpAdmin, AdminArgs{Action: "export", Path: path}, &exported)
	if exported.Count != 1 {
		t.Fatalf("exported %d items, want 1", exported.Count)
	}

	startSession(t, s, "target")
	var imported ExportResponse
	mustCall(t, s, OpAdmin, AdminArgs{Action: "import", Path: path}, &imported)
	if imported.Imported != 1 || imported.Skipped != 0 {
		t.Errorf("imported=%d skipped=%d", imported.Imported, imported.Skipped)
	}

	var got types.ContextItem
	mustCall(t, s, OpGet, GetArgs{Key: "exported"}, &got)
	if got.Value != "value" {
		t.Errorf("imported value = %q", got.Value)
	}
}

func TestAdminStats(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "work")
	saveOne(t, s, sess.ID, "a", "1", false)

	var stats types.DatabaseStats
	mustCall(t, s, OpAdmin, AdminArgs{Action: "stats"}, &stats)
	if stats.Sessions != 1 || stats.Items != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPingHealthStatus(t *testing.T) {
	s := newTestServer(t)

	var ping PingResponse
	mustCall(t, s, OpPing, nil, &ping)
	if ping.Message != "pong" {
		t.Errorf("ping message = %q", ping.Message)
	}

	var health HealthResponse
	mustCall(t, s, OpHealth, nil, &health)
	if health.Status != "healthy" {
		t.Errorf("health status = %q", health.Status)
	}

	var status StatusResponse
	mustCall(t, s, OpStatus, nil, &status)
	if status.PID == 0 || status.DatabasePath == "" {
		t.Errorf("status = %+v", status)
	}
}

func TestUnknownTool(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, "frobnicate", nil)
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("success=%v code=%q", resp.Success, resp.Code)
	}
}

func TestDispatchLineRejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatchLine([]byte("{not json"))
	if resp.Success || resp.Code != "InvalidArgument" {
		t.Errorf("success=%v code=%q", resp.Success, resp.Code)
	}
}

func TestResponseCarriesRequestID(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(&Request{Tool: OpPing, RequestID: "abc-123"})
	if resp.RequestID != "abc-123" {
		t.Errorf("RequestID = %q", resp.RequestID)
	}
}

func TestVersionCompatibility(t *testing.T) {
	s := newTestServer(t)
	saved := ServerVersion
	defer func() { ServerVersion = saved }()
	ServerVersion = "1.4.0"

	tests := []struct {
		client  string
		wantErr bool
	}{
		{"", false},
		{"1.4.0", false},
		{"v1.3.9", false},
		{"1.5.0", true},
		{"2.0.0", true},
		{"0.9.0", true},
		{"dev-build", false},
	}
	for _, tt := range tests {
		err := s.checkVersionCompatibility(tt.client)
		if (err != nil) != tt.wantErr {
			t.Errorf("client %q: err = %v, wantErr %v", tt.client, err, tt.wantErr)
		}
	}
}

func TestDatabaseBinding(t *testing.T) {
	s := newTestServer(t)

	if err := s.validateDatabaseBinding(&Request{}); err != nil {
		t.Errorf("empty expected_db should pass: %v", err)
	}
	if err := s.validateDatabaseBinding(&Request{ExpectedDB: s.store.Path()}); err != nil {
		t.Errorf("matching db should pass: %v", err)
	}
	if err := s.validateDatabaseBinding(&Request{ExpectedDB: "/somewhere/else/context.db"}); err == nil {
		t.Error("mismatched db should fail")
	}
}
