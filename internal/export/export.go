// Package export writes a session's visible items to JSONL or YAML and
// imports them back. Export is a read path: the privacy rule applies, so
// another session's private items never leave the database.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat normalizes a format string; empty means JSONL.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (valid: jsonl, yaml): %w", s, storage.ErrInvalidArgument)
	}
}

type contextStore interface {
	GetSession(ctx context.Context, id string) (*types.Session, error)
	SearchItems(ctx context.Context, opts types.SearchOptions) (*types.SearchResult, error)
	GetOwnItem(ctx context.Context, sessionID, key string) (*types.ContextItem, error)
	SaveItem(ctx context.Context, item *types.ContextItem) (string, error)
}

// Record is one JSONL line. Exactly one of Session and Item is set; the
// first line of a stream is always the session record.
type Record struct {
	Type    string             `json:"type" yaml:"type"`
	Session *types.Session     `json:"session,omitempty" yaml:"session,omitempty"`
	Item    *types.ContextItem `json:"item,omitempty" yaml:"item,omitempty"`
}

// Document is the YAML export shape: one document, not a record stream.
type Document struct {
	Session    *types.Session       `yaml:"session"`
	ExportedAt time.Time            `yaml:"exported_at"`
	Items      []*types.ContextItem `yaml:"items"`
}

// ImportResult reports one import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Exporter reads and writes session snapshots.
type Exporter struct {
	store contextStore
}

func New(store contextStore) *Exporter {
	return &Exporter{store: store}
}

// Export writes the items visible to sessionID. Items are ordered by key
// so repeated exports of the same state produce identical bytes.
func (e *Exporter) Export(ctx context.Context, w io.Writer, sessionID string, format Format) (int, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	result, err := e.store.SearchItems(ctx, types.SearchOptions{
		SessionID:         sessionID,
		Sort:              types.SortKeyAsc,
		ExplicitUnlimited: true,
		IncludeMetadata:   true,
	})
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatYAML:
		doc := Document{
			Session:    session,
			ExportedAt: time.Now().UTC(),
			Items:      result.Items,
		}
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		if err := enc.Encode(doc); err != nil {
			return 0, fmt.Errorf("failed to encode yaml export: %w", err)
		}
	default:
		bw := bufio.NewWriter(w)
		enc := json.NewEncoder(bw)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(Record{Type: "session", Session: session}); err != nil {
			return 0, fmt.Errorf("failed to encode session record: %w", err)
		}
		for _, item := range result.Items {
			if err := enc.Encode(Record{Type: "item", Item: item}); err != nil {
				return 0, fmt.Errorf("failed to encode item %s: %w", item.Key, err)
			}
		}
		if err := bw.Flush(); err != nil {
			return 0, fmt.Errorf("failed to flush export: %w", err)
		}
	}
	return len(result.Items), nil
}

// ExportToFile writes the export atomically: a temp file in the target
// directory, then a rename.
func (e *Exporter) ExportToFile(ctx context.Context, path, sessionID string, format Format) (int, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp export file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	count, err := e.Export(ctx, tmp, sessionID, format)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to move export into place: %w", err)
	}
	return count, nil
}

// Import reads an export stream into targetSessionID. Keys that already
// exist in the target are skipped, never overwritten. Imported items get
// fresh ids; timestamps are reassigned on save.
func (e *Exporter) Import(ctx context.Context, r io.Reader, targetSessionID string, format Format) (*ImportResult, error) {
	if _, err := e.store.GetSession(ctx, targetSessionID); err != nil {
		return nil, err
	}

	items, err := decodeItems(r, format)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for _, item := range items {
		if item.Key == "" {
			res.Skipped++
			continue
		}
		_, err := e.store.GetOwnItem(ctx, targetSessionID, item.Key)
		if err == nil {
			res.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		copied := *item
		copied.ID = ""
		copied.SessionID = targetSessionID
		if _, err := e.store.SaveItem(ctx, &copied); err != nil {
			return nil, fmt.Errorf("failed to import item %s: %w", item.Key, err)
		}
		res.Imported++
	}
	return res, nil
}

// ImportFile reads an export file, inferring the format from the
// extension when none is given.
func (e *Exporter) ImportFile(ctx context.Context, path, targetSessionID string, format Format) (*ImportResult, error) {
	if format == "" {
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			format = FormatYAML
		default:
			format = FormatJSONL
		}
	}
	f, err := os.Open(path) // nolint:gosec // user-supplied import path
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return e.Import(ctx, f, targetSessionID, format)
}

func decodeItems(r io.Reader, format Format) ([]*types.ContextItem, error) {
	if format == FormatYAML {
		var doc Document
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode yaml import: %w", err)
		}
		return doc.Items, nil
	}

	var items []*types.ContextItem
	dec := json.NewDecoder(r)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode import line: %w", err)
		}
		if rec.Type == "item" && rec.Item != nil {
			items = append(items, rec.Item)
		}
	}
	return items, nil
}
