package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/merge"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

const checkpointColumns = "id, session_id, name, description, git_branch, git_status, item_count, file_count, created_at"

func scanCheckpoint(sc rowScanner) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := sc.Scan(&cp.ID, &cp.SessionID, &cp.Name, &cp.Description,
		&cp.GitBranch, &cp.GitStatus, &cp.ItemCount, &cp.FileCount, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// CreateCheckpoint snapshots every item of the session into
// checkpoint_items, and the session's cached files into checkpoint_files.
// The live rows are never touched; two consecutive checkpoints with no
// intervening writes capture identical sets.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if cp.Name == "" {
		return fmt.Errorf("checkpoint name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if _, err := s.GetSession(ctx, cp.SessionID); err != nil {
		return err
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO checkpoint_items (checkpoint_id, key, value, category, priority, channel, metadata, size, is_private, item_created_at, item_updated_at)
			SELECT ?, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at
			FROM context_items WHERE session_id = ?`,
			cp.ID, cp.SessionID)
		if err != nil {
			return wrapDBError("snapshot checkpoint items", err)
		}
		items, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("snapshot checkpoint items", err)
		}
		cp.ItemCount = int(items)

		res, err = conn.ExecContext(ctx, `
			INSERT INTO checkpoint_files (checkpoint_id, file_path, hash, size)
			SELECT ?, file_path, hash, size FROM file_cache WHERE session_id = ?`,
			cp.ID, cp.SessionID)
		if err != nil {
			return wrapDBError("snapshot checkpoint files", err)
		}
		files, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("snapshot checkpoint files", err)
		}
		cp.FileCount = int(files)

		_, err = conn.ExecContext(ctx, `
			INSERT INTO checkpoints (id, session_id, name, description, git_branch, git_status, item_count, file_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.SessionID, cp.Name, cp.Description,
			cp.GitBranch, cp.GitStatus, cp.ItemCount, cp.FileCount, cp.CreatedAt)
		return wrapDBErrorf(err, "create checkpoint %q", cp.Name)
	})
}

// GetCheckpoint resolves ref as a checkpoint id first, then as a name
// (most recent wins). sessionID narrows name lookups; empty searches all
// sessions.
func (s *Store) GetCheckpoint(ctx context.Context, sessionID, ref string) (*types.Checkpoint, error) {
	if ref == "" {
		return nil, fmt.Errorf("checkpoint reference cannot be empty: %w", storage.ErrInvalidArgument)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE id = ?", ref)
	cp, err := scanCheckpoint(row)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErrorf(err, "get checkpoint %q", ref)
	}

	query := "SELECT " + checkpointColumns + " FROM checkpoints WHERE name = ?"
	args := []interface{}{ref}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT 1"

	row = s.db.QueryRowContext(ctx, query, args...)
	cp, err = scanCheckpoint(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get checkpoint %q", ref)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints newest first.
func (s *Store) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*types.Checkpoint, error) {
	query := "SELECT " + checkpointColumns + " FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC, id ASC"
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list checkpoints", err)
	}
	defer func() { _ = rows.Close() }()

	var checkpoints []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, wrapDBError("scan checkpoint", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// CheckpointItems returns the snapshot captured by a checkpoint. The rows
// carry the item timestamps from snapshot time; ids and session are blank
// because the snapshot holds content, not live rows.
func (s *Store) CheckpointItems(ctx context.Context, checkpointID string) ([]*types.ContextItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, category, priority, channel, metadata, size, is_private, item_created_at, item_updated_at
		FROM checkpoint_items WHERE checkpoint_id = ? ORDER BY item_created_at ASC, key ASC`,
		checkpointID)
	if err != nil {
		return nil, wrapDBError("list checkpoint items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.ContextItem
	for rows.Next() {
		var it types.ContextItem
		var meta sql.NullString
		var private int
		err := rows.Scan(&it.Key, &it.Value, &it.Category, &it.Priority,
			&it.Channel, &meta, &it.Size, &private, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			return nil, wrapDBError("scan checkpoint item", err)
		}
		if meta.Valid && meta.String != "" {
			it.Metadata = []byte(meta.String)
		}
		it.IsPrivate = private == 1
		items = append(items, &it)
	}
	return items, rows.Err()
}

// RestoreCheckpoint materializes a checkpoint into a brand-new session.
// Items are deep copies with fresh identifiers; their created_at and
// updated_at keep the snapshot values. Returns the new session and the
// number of items restored.
func (s *Store) RestoreCheckpoint(ctx context.Context, ref string, opts types.RestoreOptions) (*types.Session, int, error) {
	cp, err := s.GetCheckpoint(ctx, "", ref)
	if err != nil {
		return nil, 0, err
	}
	source, err := s.GetSession(ctx, cp.SessionID)
	if err != nil {
		return nil, 0, err
	}

	name := opts.NewSessionName
	if name == "" {
		name = "Restored from: " + cp.Name
	}
	session := &types.Session{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    fmt.Sprintf("Restored from checkpoint %q of session %s", cp.Name, cp.SessionID),
		Branch:         source.Branch,
		WorkingDir:     source.WorkingDir,
		ParentID:       cp.SessionID,
		DefaultChannel: source.DefaultChannel,
	}

	restored := 0
	err = s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC()
		_, err := conn.ExecContext(ctx, `
			INSERT INTO sessions (id, name, description, branch, working_dir, parent_id, default_channel, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.Name, session.Description, session.Branch,
			session.WorkingDir, session.ParentID, session.DefaultChannel, now, now)
		if err != nil {
			return wrapDBError("create restored session", err)
		}
		session.CreatedAt = now
		session.UpdatedAt = now

		res, err := conn.ExecContext(ctx, `
			INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at)
			SELECT lower(hex(randomblob(16))), ?, key, value, category, priority, channel, metadata, size, is_private, item_created_at, item_updated_at
			FROM checkpoint_items WHERE checkpoint_id = ?`,
			session.ID, cp.ID)
		if err != nil {
			return wrapDBError("restore checkpoint items", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("restore checkpoint items", err)
		}
		restored = int(n)

		if opts.RestoreFiles {
			_, err = conn.ExecContext(ctx, `
				INSERT INTO file_cache (id, session_id, file_path, content, hash, size, updated_at)
				SELECT lower(hex(randomblob(16))), ?, cf.file_path, COALESCE(fc.content, ''), cf.hash, cf.size, ?
				FROM checkpoint_files cf
				LEFT JOIN file_cache fc ON fc.session_id = ? AND fc.file_path = cf.file_path AND fc.hash = cf.hash
				WHERE cf.checkpoint_id = ?`,
				session.ID, now, cp.SessionID, cp.ID)
			if err != nil {
				return wrapDBError("restore checkpoint files", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return session, restored, nil
}

// BranchSession creates a child session and copies items into it. Shallow
// branches take only high-priority items; deep branches take everything
// plus the file cache. Returns the new session and the copy count.
func (s *Store) BranchSession(ctx context.Context, sourceSessionID, branchName string, depth types.CopyDepth) (*types.Session, int, error) {
	if branchName == "" {
		return nil, 0, fmt.Errorf("branch name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if depth == "" {
		depth = types.CopyShallow
	}
	if !depth.IsValid() {
		return nil, 0, fmt.Errorf("copy depth must be shallow or deep, got %q: %w", depth, storage.ErrInvalidArgument)
	}
	source, err := s.GetSession(ctx, sourceSessionID)
	if err != nil {
		return nil, 0, err
	}

	session := &types.Session{
		ID:             uuid.NewString(),
		Name:           branchName,
		Description:    fmt.Sprintf("Branched from session %s", sourceSessionID),
		Branch:         source.Branch,
		WorkingDir:     source.WorkingDir,
		ParentID:       sourceSessionID,
		DefaultChannel: source.DefaultChannel,
	}

	copied := 0
	err = s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC()
		_, err := conn.ExecContext(ctx, `
			INSERT INTO sessions (id, name, description, branch, working_dir, parent_id, default_channel, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.Name, session.Description, session.Branch,
			session.WorkingDir, session.ParentID, session.DefaultChannel, now, now)
		if err != nil {
			return wrapDBError("create branch session", err)
		}
		session.CreatedAt = now
		session.UpdatedAt = now

		itemQuery := `
			INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at)
			SELECT lower(hex(randomblob(16))), ?, key, value, category, priority, channel, metadata, size, is_private, ?, ?
			FROM context_items WHERE session_id = ?`
		args := []interface{}{session.ID, now, now, sourceSessionID}
		if depth == types.CopyShallow {
			itemQuery += " AND priority = ?"
			args = append(args, string(types.PriorityHigh))
		}
		res, err := conn.ExecContext(ctx, itemQuery, args...)
		if err != nil {
			return wrapDBError("copy branch items", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("copy branch items", err)
		}
		copied = int(n)

		if depth == types.CopyDeep {
			_, err = conn.ExecContext(ctx, `
				INSERT INTO file_cache (id, session_id, file_path, content, hash, size, updated_at)
				SELECT lower(hex(randomblob(16))), ?, file_path, content, hash, size, ?
				FROM file_cache WHERE session_id = ?`,
				session.ID, now, sourceSessionID)
			if err != nil {
				return wrapDBError("copy branch file cache", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return session, copied, nil
}

// MergeSessions folds the source session's items into the target. The
// strategy decides conflicts per key; non-conflicting items are copied.
// Returns (merged, skipped).
func (s *Store) MergeSessions(ctx context.Context, sourceSessionID, targetSessionID string, strategy types.MergeStrategy) (int, int, error) {
	if sourceSessionID == targetSessionID {
		return 0, 0, fmt.Errorf("cannot merge a session into itself: %w", storage.ErrInvalidArgument)
	}
	if !strategy.IsValid() {
		return 0, 0, fmt.Errorf("invalid merge strategy: %s: %w", strategy, storage.ErrInvalidArgument)
	}
	if _, err := s.GetSession(ctx, sourceSessionID); err != nil {
		return 0, 0, err
	}
	if _, err := s.GetSession(ctx, targetSessionID); err != nil {
		return 0, 0, err
	}

	merged, skipped := 0, 0
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT "+itemColumns+" FROM context_items WHERE session_id = ? ORDER BY created_at ASC, id ASC",
			sourceSessionID)
		if err != nil {
			return wrapDBError("select merge source items", err)
		}
		sourceItems, err := collectItems(rows)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, src := range sourceItems {
			row := conn.QueryRowContext(ctx,
				"SELECT "+itemColumns+" FROM context_items WHERE session_id = ? AND key = ?",
				targetSessionID, src.Key)
			target, err := scanItem(row)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return wrapDBErrorf(err, "probe merge target %q", src.Key)
			}
			if errors.Is(err, sql.ErrNoRows) {
				target = nil
			}

			action, err := merge.Resolve(strategy, src, target)
			if err != nil {
				return fmt.Errorf("%v: %w", err, storage.ErrInvalidArgument)
			}

			switch action {
			case merge.Insert:
				_, err = conn.ExecContext(ctx, `
					INSERT INTO context_items (id, session_id, key, value, category, priority, channel, metadata, size, is_private, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					uuid.NewString(), targetSessionID, src.Key, src.Value,
					src.Category, src.Priority, src.Channel,
					metadataArg(src.Metadata), src.Size,
					boolToInt(src.IsPrivate), now, now)
				if err != nil {
					return wrapDBErrorf(err, "merge insert %q", src.Key)
				}
				merged++
			case merge.Overwrite:
				merge.Apply(src, target)
				_, err = conn.ExecContext(ctx, `
					UPDATE context_items
					SET value = ?, category = ?, priority = ?, channel = ?, metadata = ?, size = ?, is_private = ?, updated_at = ?
					WHERE id = ?`,
					target.Value, target.Category, target.Priority, target.Channel,
					metadataArg(target.Metadata), target.Size,
					boolToInt(target.IsPrivate), now, target.ID)
				if err != nil {
					return wrapDBErrorf(err, "merge overwrite %q", src.Key)
				}
				merged++
			case merge.Skip:
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return merged, skipped, nil
}
