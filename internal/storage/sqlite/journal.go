package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// AddJournalEntry appends one journal record. Entries are never edited or
// deleted.
func (s *Store) AddJournalEntry(ctx context.Context, entry *types.JournalEntry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if entry.Entry == "" {
		return fmt.Errorf("journal entry cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if _, err := s.GetSession(ctx, entry.SessionID); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (id, session_id, entry, tags, mood, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Entry,
		encodeStringSlice(entry.Tags), entry.Mood, entry.CreatedAt)
	return wrapDBError("add journal entry", err)
}

// ListJournal returns a session's journal, newest first, optionally
// bounded by [since, until).
func (s *Store) ListJournal(ctx context.Context, sessionID string, since, until *time.Time, limit int) ([]*types.JournalEntry, error) {
	query := "SELECT id, session_id, entry, tags, mood, created_at FROM journal_entries WHERE session_id = ?"
	args := []interface{}{sessionID}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, since.UTC())
	}
	if until != nil {
		query += " AND created_at < ?"
		args = append(args, until.UTC())
	}
	query += " ORDER BY created_at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list journal", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.JournalEntry
	for rows.Next() {
		var e types.JournalEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Entry, &tags, &e.Mood, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan journal entry", err)
		}
		e.Tags = decodeStringSlice(tags)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// timelineGrains maps the groupBy argument to a strftime period format.
var timelineGrains = map[string]string{
	"hour": "%Y-%m-%d %H:00",
	"day":  "%Y-%m-%d",
}

// Timeline buckets a session's activity per period: item counts broken
// down by category, the period's journal entries, and optionally the
// items themselves.
func (s *Store) Timeline(ctx context.Context, req types.TimelineRequest) ([]*types.TimelineBucket, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = "day"
	}
	grain, ok := timelineGrains[groupBy]
	if !ok {
		return nil, fmt.Errorf("groupBy must be hour or day, got %q: %w", req.GroupBy, storage.ErrInvalidArgument)
	}

	boundsSQL := ""
	var boundArgs []interface{}
	if req.Start != nil {
		boundsSQL += " AND created_at >= ?"
		boundArgs = append(boundArgs, req.Start.UTC())
	}
	if req.End != nil {
		boundsSQL += " AND created_at < ?"
		boundArgs = append(boundArgs, req.End.UTC())
	}

	args := append([]interface{}{req.SessionID}, boundArgs...)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT strftime('%s', created_at) AS period, category, COUNT(*)
		FROM context_items WHERE session_id = ?%s
		GROUP BY period, category ORDER BY period ASC`, grain, boundsSQL), args...)
	if err != nil {
		return nil, wrapDBError("bucket timeline items", err)
	}
	defer func() { _ = rows.Close() }()

	byPeriod := make(map[string]*types.TimelineBucket)
	var order []string
	bucketFor := func(period string) *types.TimelineBucket {
		if b, ok := byPeriod[period]; ok {
			return b
		}
		b := &types.TimelineBucket{Period: period, ByCategory: make(map[types.Category]int)}
		byPeriod[period] = b
		order = append(order, period)
		return b
	}

	for rows.Next() {
		var period string
		var category types.Category
		var n int
		if err := rows.Scan(&period, &category, &n); err != nil {
			return nil, wrapDBError("scan timeline bucket", err)
		}
		b := bucketFor(period)
		b.ItemCount += n
		b.ByCategory[category] += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("bucket timeline items", err)
	}

	journal, err := s.ListJournal(ctx, req.SessionID, req.Start, req.End, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range journal {
		period := e.CreatedAt.UTC().Format(grainGoFormat(groupBy))
		b := bucketFor(period)
		b.Journal = append(b.Journal, e)
	}

	if req.IncludeItems {
		itemRows, err := s.db.QueryContext(ctx,
			"SELECT "+itemColumns+" FROM context_items WHERE session_id = ?"+boundsSQL+
				" ORDER BY created_at ASC, id ASC", args...)
		if err != nil {
			return nil, wrapDBError("list timeline items", err)
		}
		items, err := collectItems(itemRows)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			period := it.CreatedAt.UTC().Format(grainGoFormat(groupBy))
			b := bucketFor(period)
			b.Items = append(b.Items, it)
		}
	}

	// Journal-only periods can land out of order; keep period order sorted.
	sort.Strings(order)
	buckets := make([]*types.TimelineBucket, 0, len(order))
	for _, p := range order {
		buckets = append(buckets, byPeriod[p])
	}
	return buckets, nil
}

// grainGoFormat is the Go time layout matching the strftime grain.
func grainGoFormat(groupBy string) string {
	if groupBy == "hour" {
		return "2006-01-02 15:00"
	}
	return "2006-01-02"
}

// RecordToolEvent appends one tool invocation to the audit trail.
func (s *Store) RecordToolEvent(ctx context.Context, ev *types.ToolEvent) error {
	if ev.Tool == "" {
		return fmt.Errorf("tool name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_events (id, session_id, tool, actor, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Tool, ev.Actor, ev.DurationMs,
		boolToInt(ev.Success), ev.Error, ev.CreatedAt)
	return wrapDBError("record tool event", err)
}

// ListToolEvents returns recent tool events, newest first. Empty sessionID
// lists across sessions.
func (s *Store) ListToolEvents(ctx context.Context, sessionID string, limit int) ([]*types.ToolEvent, error) {
	query := "SELECT id, session_id, tool, actor, duration_ms, success, error, created_at FROM tool_events"
	var args []interface{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tool events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.ToolEvent
	for rows.Next() {
		var ev types.ToolEvent
		var success int
		err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Tool, &ev.Actor,
			&ev.DurationMs, &success, &ev.Error, &ev.CreatedAt)
		if err != nil {
			return nil, wrapDBError("scan tool event", err)
		}
		ev.Success = success == 1
		events = append(events, &ev)
	}
	return events, rows.Err()
}
