package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/validation"
)

// SaveItem upserts an item on (session_id, key) and reports "created" or
// "updated". Updates keep the original row identity and created_at; every
// other field, including the privacy flag, takes the incoming value.
func (s *Store) SaveItem(ctx context.Context, item *types.ContextItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("%v: %w", err, storage.ErrInvalidArgument)
	}
	if item.SessionID == "" {
		return "", fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	// Explicit channels are rejected rather than normalized; derived ones
	// were already normalized by the channel package.
	if item.Channel != "" {
		if err := validation.ValidateChannelName(item.Channel); err != nil {
			return "", fmt.Errorf("%v: %w", err, storage.ErrInvalidArgument)
		}
	}
	if item.Category == "" {
		item.Category = types.CategoryNote
	}
	if item.Priority == "" {
		item.Priority = types.PriorityNormal
	}
	if item.Channel == "" {
		item.Channel = types.DefaultChannel
	}
	item.Size = len(item.Value)

	if err := s.checkCapacity(ctx, int64(item.Size)); err != nil {
		return "", err
	}

	action := ""
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if err := sessionExists(ctx, conn, item.SessionID); err != nil {
			return err
		}
		var err error
		action, err = upsertItem(ctx, conn, item)
		return err
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

// sessionExists verifies the session row is present.
func sessionExists(ctx context.Context, conn *sql.Conn, sessionID string) error {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE id = ?", sessionID).Scan(&n)
	if err != nil {
		return wrapDBError("check session", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return nil
}

// upsertItem performs the save inside an open transaction, reporting
// "created" or "updated". Shared by SaveItem and the batch path.
func upsertItem(ctx context.Context, conn *sql.Conn, item *types.ContextItem) (string, error) {
	now := time.Now().UTC()
	var existingID string
	var existingCreated time.Time
	err := conn.QueryRowContext(ctx,
		"SELECT id, created_at FROM context_items WHERE session_id = ? AND key = ?",
		item.SessionID, item.Key,
	).Scan(&existingID, &existingCreated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		_, err = conn.ExecContext(ctx, `
			INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.SessionID, item.Key, item.Value, item.Category,
			item.Priority, item.Channel, metadataArg(item.Metadata),
			item.Size, boolToInt(item.IsPrivate), item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return "", wrapDBError("insert context item", err)
		}
		return "created", nil
	case err != nil:
		return "", wrapDBError("probe context item", err)
	}

	item.ID = existingID
	item.CreatedAt = existingCreated
	item.UpdatedAt = now
	_, err = conn.ExecContext(ctx, `
		UPDATE context_items
		SET value = ?, category = ?, priority = ?, channel = ?, metadata = ?, size = ?, is_private = ?, updated_at = ?
		WHERE id = ?`,
		item.Value, item.Category, item.Priority, item.Channel,
		metadataArg(item.Metadata), item.Size, boolToInt(item.IsPrivate),
		item.UpdatedAt, item.ID,
	)
	if err != nil {
		return "", wrapDBError("update context item", err)
	}
	return "updated", nil
}

// GetItemByKey resolves key for a viewing session: the session's own item
// wins; otherwise the most recent public item under that key from any
// session. A key that exists only as another session's private item is
// reported as permission denied, not absence.
func (s *Store) GetItemByKey(ctx context.Context, viewerSessionID, key string) (*types.ContextItem, error) {
	item, err := s.GetOwnItem(ctx, viewerSessionID, key)
	if err == nil {
		return item, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM context_items WHERE key = ? AND is_private = 0 ORDER BY created_at DESC, id ASC LIMIT 1",
		key)
	item, err = scanItem(row)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErrorf(err, "get item %q", key)
	}

	var hidden int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM context_items WHERE key = ?", key).Scan(&hidden); err != nil {
		return nil, wrapDBErrorf(err, "get item %q", key)
	}
	if hidden > 0 {
		return nil, fmt.Errorf("item %q is private to another session: %w", key, storage.ErrPermissionDenied)
	}
	return nil, fmt.Errorf("item %q: %w", key, storage.ErrNotFound)
}

// GetOwnItem fetches an item strictly from the given session.
func (s *Store) GetOwnItem(ctx context.Context, sessionID, key string) (*types.ContextItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM context_items WHERE session_id = ? AND key = ?",
		sessionID, key)
	item, err := scanItem(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get item %q in session %s", key, sessionID)
	}
	return item, nil
}

// DeleteItem removes an item and every relationship that touches its key
// in the same transaction. Returns the removed row.
func (s *Store) DeleteItem(ctx context.Context, sessionID, key string) (*types.ContextItem, error) {
	var deleted *types.ContextItem
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		item, err := deleteItem(ctx, conn, sessionID, key)
		if err != nil {
			return err
		}
		deleted = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// deleteItem removes one item and cascades its relationships inside an
// open transaction. Shared by DeleteItem and the batch path.
func deleteItem(ctx context.Context, conn *sql.Conn, sessionID, key string) (*types.ContextItem, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM context_items WHERE session_id = ? AND key = ?",
		sessionID, key)
	item, err := scanItem(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "delete item %q", key)
	}

	if _, err := conn.ExecContext(ctx,
		"DELETE FROM context_relationships WHERE session_id = ? AND (from_key = ? OR to_key = ?)",
		sessionID, key, key); err != nil {
		return nil, wrapDBError("delete item relationships", err)
	}
	if _, err := conn.ExecContext(ctx,
		"DELETE FROM context_items WHERE id = ?", item.ID); err != nil {
		return nil, wrapDBError("delete context item", err)
	}
	return item, nil
}

// CopyItems copies items from one session to another. Keys already present
// in the target are skipped and reported; the privacy flag travels with
// the copy. keys == nil copies everything.
func (s *Store) CopyItems(ctx context.Context, sourceSessionID, targetSessionID string, keys []string) (int, []string, error) {
	if sourceSessionID == targetSessionID {
		return 0, nil, fmt.Errorf("source and target sessions are identical: %w", storage.ErrInvalidArgument)
	}
	if _, err := s.GetSession(ctx, sourceSessionID); err != nil {
		return 0, nil, err
	}
	if _, err := s.GetSession(ctx, targetSessionID); err != nil {
		return 0, nil, err
	}

	copied := 0
	var skipped []string
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		query := "SELECT " + itemColumns + " FROM context_items WHERE session_id = ?"
		args := []interface{}{sourceSessionID}
		if len(keys) > 0 {
			clause, inArgs := buildInClause("key", keys)
			query += " AND " + clause
			args = append(args, inArgs...)
		}
		query += " ORDER BY created_at ASC, id ASC"

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("select source items", err)
		}
		items, err := collectItems(rows)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, item := range items {
			var exists int
			err := conn.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM context_items WHERE session_id = ? AND key = ?",
				targetSessionID, item.Key).Scan(&exists)
			if err != nil {
				return wrapDBError("probe target item", err)
			}
			if exists > 0 {
				skipped = append(skipped, item.Key)
				continue
			}
			_, err = conn.ExecContext(ctx, `
				INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), targetSessionID, item.Key, item.Value,
				item.Category, item.Priority, item.Channel,
				metadataArg(item.Metadata), item.Size,
				boolToInt(item.IsPrivate), now, now,
			)
			if err != nil {
				return wrapDBErrorf(err, "copy item %q", item.Key)
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return copied, skipped, nil
}

// ReassignChannel moves matching items to another channel. Selection can
// combine explicit keys, a glob pattern, a source channel, and category or
// priority filters; dryRun reports the match set without mutating.
func (s *Store) ReassignChannel(ctx context.Context, req types.ReassignRequest) (*types.ReassignResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if req.ToChannel == "" {
		return nil, fmt.Errorf("target channel cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if len(req.ToChannel) > types.MaxChannelLength {
		return nil, fmt.Errorf("target channel exceeds maximum length of %d characters: %w",
			types.MaxChannelLength, storage.ErrInvalidArgument)
	}

	result := &types.ReassignResult{DryRun: req.DryRun, Keys: []string{}}
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		query := "SELECT " + itemColumns + " FROM context_items WHERE session_id = ?"
		args := []interface{}{req.SessionID}
		if len(req.Keys) > 0 {
			clause, inArgs := buildInClause("key", req.Keys)
			query += " AND " + clause
			args = append(args, inArgs...)
		}
		if req.KeyPattern != "" {
			query += " AND key GLOB ?"
			args = append(args, req.KeyPattern)
		}
		if req.FromChannel != "" {
			query += " AND channel = ?"
			args = append(args, req.FromChannel)
		}
		if req.Category != nil {
			query += " AND category = ?"
			args = append(args, string(*req.Category))
		}
		if req.Priority != nil {
			query += " AND priority = ?"
			args = append(args, string(*req.Priority))
		}
		query += " ORDER BY created_at DESC, id ASC"

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("select items for reassign", err)
		}
		items, err := collectItems(rows)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, item := range items {
			result.Keys = append(result.Keys, item.Key)
			if req.DryRun {
				continue
			}
			if _, err := conn.ExecContext(ctx,
				"UPDATE context_items SET channel = ?, updated_at = ? WHERE id = ?",
				req.ToChannel, now, item.ID); err != nil {
				return wrapDBErrorf(err, "reassign item %q", item.Key)
			}
			item.Channel = req.ToChannel
			item.UpdatedAt = now
			result.Items = append(result.Items, item)
		}
		result.Moved = len(result.Keys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
