package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

const sessionColumns = "id, name, description, branch, working_dir, parent_id, default_channel, created_at, updated_at"

func scanSession(sc rowScanner) (*types.Session, error) {
	var s types.Session
	err := sc.Scan(&s.ID, &s.Name, &s.Description, &s.Branch, &s.WorkingDir,
		&s.ParentID, &s.DefaultChannel, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a new session row. The caller supplies the ID;
// timestamps are filled when zero.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if session.Name == "" {
		return fmt.Errorf("session name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if session.DefaultChannel == "" {
		session.DefaultChannel = types.DefaultChannel
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, description, branch, working_dir, parent_id, default_channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Name, session.Description, session.Branch,
		session.WorkingDir, session.ParentID, session.DefaultChannel,
		session.CreatedAt, session.UpdatedAt,
	)
	return wrapDBError("create session", err)
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get session %s", id)
	}
	return session, nil
}

// GetSessionByName fetches the most recently created session with the
// given name.
func (s *Store) GetSessionByName(ctx context.Context, name string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE name = ? ORDER BY created_at DESC, id ASC LIMIT 1", name)
	session, err := scanSession(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get session named %q", name)
	}
	return session, nil
}

// ListSessions returns sessions newest first. limit <= 0 lists all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions ORDER BY created_at DESC, id ASC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, wrapDBError("scan session", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// sessionMutableFields is the closed set UpdateSession accepts. Sessions
// are historical records; branch, lineage, and timestamps never change.
var sessionMutableFields = map[string]string{
	"name":            "name",
	"description":     "description",
	"default_channel": "default_channel",
}

// UpdateSession applies the given field updates to a session.
func (s *Store) UpdateSession(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	// Deterministic SET order keeps statements cache-friendly.
	fields := make([]string, 0, len(updates))
	for f := range updates {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	for _, f := range fields {
		col, ok := sessionMutableFields[f]
		if !ok {
			return fmt.Errorf("session field %q is not updatable: %w", f, storage.ErrInvalidArgument)
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, updates[f])
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return wrapDBErrorf(err, "update session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update session", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// SessionStats aggregates one session's footprint across all tables.
func (s *Store) SessionStats(ctx context.Context, id string) (*types.SessionStats, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	stats := &types.SessionStats{
		SessionID:  id,
		ByCategory: make(map[types.Category]int),
		ByChannel:  make(map[string]int),
		ByPriority: make(map[types.Priority]int),
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size), 0) FROM context_items WHERE session_id = ?", id,
	).Scan(&stats.ItemCount, &stats.TotalBytes)
	if err != nil {
		return nil, wrapDBError("count session items", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, channel, priority, COUNT(*)
		FROM context_items WHERE session_id = ?
		GROUP BY category, channel, priority`, id)
	if err != nil {
		return nil, wrapDBError("aggregate session items", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var category types.Category
		var channel string
		var priority types.Priority
		var n int
		if err := rows.Scan(&category, &channel, &priority, &n); err != nil {
			return nil, wrapDBError("scan session aggregate", err)
		}
		stats.ByCategory[category] += n
		stats.ByChannel[channel] += n
		stats.ByPriority[priority] += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("aggregate session items", err)
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM context_relationships WHERE session_id = ?", &stats.RelationshipCount},
		{"SELECT COUNT(*) FROM checkpoints WHERE session_id = ?", &stats.CheckpointCount},
		{"SELECT COUNT(*) FROM journal_entries WHERE session_id = ?", &stats.JournalCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, id).Scan(c.dest); err != nil {
			return nil, wrapDBError("count session artifacts", err)
		}
	}
	return stats, nil
}

// SetMetadata stores an internal key/value pair.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return wrapDBError("set metadata", err)
}

// GetMetadata fetches an internal key/value pair.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", wrapDBErrorf(err, "get metadata %q", key)
	}
	return value, nil
}

// DatabaseStats summarizes the whole store for the status tool.
func (s *Store) DatabaseStats(ctx context.Context) (*types.DatabaseStats, error) {
	stats := &types.DatabaseStats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sessions", &stats.Sessions},
		{"SELECT COUNT(*) FROM context_items", &stats.Items},
		{"SELECT COUNT(*) FROM context_items WHERE is_private = 1", &stats.PrivateItems},
		{"SELECT COUNT(*) FROM context_relationships", &stats.Relationships},
		{"SELECT COUNT(*) FROM checkpoints", &stats.Checkpoints},
		{"SELECT COUNT(*) FROM compressed_context", &stats.CompressedBuckets},
		{"SELECT COUNT(*) FROM journal_entries", &stats.JournalEntries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, wrapDBError("collect database stats", err)
		}
	}
	size, err := s.sizeBytes(ctx)
	if err != nil {
		return nil, err
	}
	stats.SizeBytes = size
	return stats, nil
}
