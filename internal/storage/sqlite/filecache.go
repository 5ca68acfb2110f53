package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// UpsertFileCache stores or refreshes one file snapshot for a session.
// Hash and size are derived from the content so callers cannot record a
// stale digest.
func (s *Store) UpsertFileCache(ctx context.Context, entry *types.FileCacheEntry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if entry.FilePath == "" {
		return fmt.Errorf("file path cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if _, err := s.GetSession(ctx, entry.SessionID); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(entry.Content))
	entry.Hash = hex.EncodeToString(sum[:])
	entry.Size = int64(len(entry.Content))
	entry.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_cache (id, session_id, file_path, content, hash, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, file_path) DO UPDATE SET
			content = excluded.content,
			hash = excluded.hash,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		entry.ID, entry.SessionID, entry.FilePath,
		entry.Content, entry.Hash, entry.Size, entry.UpdatedAt)
	return wrapDBError("upsert file cache", err)
}

// GetFileCache fetches one cached file by path.
func (s *Store) GetFileCache(ctx context.Context, sessionID, filePath string) (*types.FileCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, file_path, content, hash, size, updated_at
		FROM file_cache WHERE session_id = ? AND file_path = ?`,
		sessionID, filePath)

	var e types.FileCacheEntry
	err := row.Scan(&e.ID, &e.SessionID, &e.FilePath, &e.Content, &e.Hash, &e.Size, &e.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "file cache entry %s", filePath)
	}
	return &e, nil
}

// ListFileCache returns a session's cached files without their content,
// ordered by path.
func (s *Store) ListFileCache(ctx context.Context, sessionID string) ([]*types.FileCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_path, hash, size, updated_at
		FROM file_cache WHERE session_id = ? ORDER BY file_path ASC`, sessionID)
	if err != nil {
		return nil, wrapDBError("list file cache", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.FileCacheEntry
	for rows.Next() {
		var e types.FileCacheEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FilePath, &e.Hash, &e.Size, &e.UpdatedAt); err != nil {
			return nil, wrapDBError("scan file cache entry", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
