package export

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "context.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSession(t *testing.T, store *sqlite.Store, name string) *types.Session {
	t.Helper()
	s := &types.Session{ID: uuid.NewString(), Name: name, DefaultChannel: "general"}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return s
}

func saveItem(t *testing.T, store *sqlite.Store, sessionID, key, value string, private bool) {
	t.Helper()
	_, err := store.SaveItem(context.Background(), &types.ContextItem{
		SessionID: sessionID,
		Key:       key,
		Value:     value,
		Channel:   "general",
		IsPrivate: private,
	})
	if err != nil {
		t.Fatalf("failed to save %s: %v", key, err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSONL, false},
		{"jsonl", FormatJSONL, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestExportJSONLRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := newSession(t, store, "source")
	saveItem(t, store, source.ID, "b-key", "beta", false)
	saveItem(t, store, source.ID, "a-key", "alpha", true)

	var buf bytes.Buffer
	e := New(store)
	count, err := e.Export(ctx, &buf, source.ID, FormatJSONL)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 exported items, got %d", count)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"type":"session"`) {
		t.Errorf("first line is not the session record: %s", lines[0])
	}
	// key_asc ordering makes output deterministic.
	if !strings.Contains(lines[1], "a-key") || !strings.Contains(lines[2], "b-key") {
		t.Errorf("items out of order: %v", lines[1:])
	}

	target := newSession(t, store, "target")
	res, err := e.Import(ctx, &buf, target.ID, FormatJSONL)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Fatalf("unexpected import result %+v", res)
	}

	got, err := store.GetOwnItem(ctx, target.ID, "a-key")
	if err != nil {
		t.Fatalf("imported item missing: %v", err)
	}
	if got.Value != "alpha" || !got.IsPrivate {
		t.Errorf("imported item lost fields: %+v", got)
	}
	if got.ID == "" || got.SessionID != target.ID {
		t.Errorf("imported item not re-homed: %+v", got)
	}
}

func TestExportExcludesForeignPrivateItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mine := newSession(t, store, "mine")
	other := newSession(t, store, "other")
	saveItem(t, store, mine.ID, "own-private", "v", true)
	saveItem(t, store, other.ID, "their-public", "v", false)
	saveItem(t, store, other.ID, "their-private", "v", true)

	var buf bytes.Buffer
	count, err := New(store).Export(ctx, &buf, mine.ID, FormatJSONL)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 visible items, got %d", count)
	}
	if strings.Contains(buf.String(), "their-private") {
		t.Error("foreign private item leaked into export")
	}
	if !strings.Contains(buf.String(), "own-private") {
		t.Error("own private item missing from export")
	}
}

func TestImportSkipsConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := newSession(t, store, "source")
	saveItem(t, store, source.ID, "shared", "from-source", false)
	saveItem(t, store, source.ID, "fresh", "new", false)

	var buf bytes.Buffer
	e := New(store)
	if _, err := e.Export(ctx, &buf, source.ID, FormatJSONL); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	target := newSession(t, store, "target")
	saveItem(t, store, target.ID, "shared", "kept", false)

	res, err := e.Import(ctx, &buf, target.ID, FormatJSONL)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected import result %+v", res)
	}
	got, err := store.GetOwnItem(ctx, target.ID, "shared")
	if err != nil {
		t.Fatalf("GetOwnItem failed: %v", err)
	}
	if got.Value != "kept" {
		t.Errorf("conflicting item was overwritten: %+v", got)
	}
}

func TestExportYAMLFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := newSession(t, store, "source")
	saveItem(t, store, source.ID, "doc", "yaml payload", false)

	path := filepath.Join(t.TempDir(), "session.yaml")
	e := New(store)
	count, err := e.ExportToFile(ctx, path, source.ID, FormatYAML)
	if err != nil {
		t.Fatalf("ExportToFile failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 item, got %d", count)
	}

	target := newSession(t, store, "target")
	res, err := e.ImportFile(ctx, path, target.ID, "")
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if res.Imported != 1 {
		t.Fatalf("unexpected import result %+v", res)
	}
	if _, err := store.GetOwnItem(ctx, target.ID, "doc"); err != nil {
		t.Errorf("imported item missing: %v", err)
	}
}
