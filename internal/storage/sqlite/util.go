package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// itemColumns is the canonical select list for context_items rows. Keep in
// sync with scanItem.
const itemColumns = "id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(sc rowScanner) (*types.ContextItem, error) {
	var it types.ContextItem
	var meta sql.NullString
	var private int
	err := sc.Scan(&it.ID, &it.SessionID, &it.Key, &it.Value, &it.Category,
		&it.Priority, &it.Channel, &meta, &it.Size, &private,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		it.Metadata = json.RawMessage(meta.String)
	}
	it.IsPrivate = private == 1
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]*types.ContextItem, error) {
	defer func() { _ = rows.Close() }()
	var items []*types.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrapDBError("scan context item", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// buildInClause renders "col IN (?, ...)" and the matching argument slice.
func buildInClause(col string, values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return col + " IN (" + placeholders(len(values)) + ")", args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metadataArg renders item metadata for binding; empty metadata stays NULL.
func metadataArg(meta json.RawMessage) interface{} {
	if len(meta) == 0 {
		return nil
	}
	return string(meta)
}

// encodeStringSlice serializes a string slice as a JSON array, never null.
func encodeStringSlice(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStringSlice(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
