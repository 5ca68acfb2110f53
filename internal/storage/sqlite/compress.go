package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// ListCompressible selects the items a compression run would fold away:
// strictly older than the cutoff and not in a preserved category.
func (s *Store) ListCompressible(ctx context.Context, req types.CompressRequest) ([]*types.ContextItem, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if req.OlderThan.IsZero() {
		return nil, fmt.Errorf("olderThan cutoff is required: %w", storage.ErrInvalidArgument)
	}
	for _, c := range req.PreserveCategories {
		if !c.IsValid() {
			return nil, fmt.Errorf("invalid category: %s: %w", c, storage.ErrInvalidArgument)
		}
	}

	query := "SELECT " + itemColumns + " FROM context_items WHERE session_id = ? AND created_at < ?"
	args := []interface{}{req.SessionID, req.OlderThan.UTC()}
	if len(req.PreserveCategories) > 0 {
		values := make([]string, len(req.PreserveCategories))
		for i, c := range req.PreserveCategories {
			values[i] = string(c)
		}
		clause, inArgs := buildInClause("category", values)
		query += " AND NOT " + clause
		args = append(args, inArgs...)
	}
	query += " ORDER BY category ASC, created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("select compressible items", err)
	}
	return collectItems(rows)
}

// ApplyCompression records the bucket and deletes the original items (and
// their relationships) in one transaction. The bucket summary is final;
// there is no edit path.
func (s *Store) ApplyCompression(ctx context.Context, bucket *types.CompressedBucket, itemIDs []string) error {
	if bucket.SessionID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if len(itemIDs) == 0 {
		return fmt.Errorf("compression bucket has no items: %w", storage.ErrInvalidArgument)
	}
	if bucket.ID == "" {
		bucket.ID = uuid.NewString()
	}
	if bucket.CreatedAt.IsZero() {
		bucket.CreatedAt = time.Now().UTC()
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO compressed_context (id, session_id, summary, narrative, original_count, compressed_size, ratio, date_start, date_end, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bucket.ID, bucket.SessionID, bucket.Summary, bucket.Narrative,
			bucket.OriginalCount, bucket.CompressedSize, bucket.Ratio,
			bucket.DateStart.UTC(), bucket.DateEnd.UTC(), bucket.CreatedAt)
		if err != nil {
			return wrapDBError("insert compressed bucket", err)
		}

		idClause, idArgs := buildInClause("id", itemIDs)

		// Relationships referencing compressed keys go with them.
		relArgs := append([]interface{}{bucket.SessionID, bucket.SessionID}, append(idArgs, idArgs...)...)
		_, err = conn.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM context_relationships
			WHERE session_id = ?
			  AND (from_key IN (SELECT key FROM context_items WHERE session_id = ? AND %s)
			    OR to_key IN (SELECT key FROM context_items WHERE %s))`,
			idClause, idClause), relArgs...)
		if err != nil {
			return wrapDBError("delete compressed relationships", err)
		}

		res, err := conn.ExecContext(ctx,
			"DELETE FROM context_items WHERE "+idClause, idArgs...)
		if err != nil {
			return wrapDBError("delete compressed items", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("delete compressed items", err)
		}
		if int(n) != len(itemIDs) {
			return fmt.Errorf("compression expected to delete %d items, deleted %d: %w",
				len(itemIDs), n, storage.ErrFailedPrecondition)
		}
		return nil
	})
}

// ListCompressedBuckets returns a session's compression history, newest
// first.
func (s *Store) ListCompressedBuckets(ctx context.Context, sessionID string, limit int) ([]*types.CompressedBucket, error) {
	query := `
		SELECT id, session_id, summary, narrative, original_count, compressed_size, ratio, date_start, date_end, created_at
		FROM compressed_context WHERE session_id = ? ORDER BY created_at DESC, id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list compressed buckets", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []*types.CompressedBucket
	for rows.Next() {
		var b types.CompressedBucket
		err := rows.Scan(&b.ID, &b.SessionID, &b.Summary, &b.Narrative,
			&b.OriginalCount, &b.CompressedSize, &b.Ratio,
			&b.DateStart, &b.DateEnd, &b.CreatedAt)
		if err != nil {
			return nil, wrapDBError("scan compressed bucket", err)
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}
