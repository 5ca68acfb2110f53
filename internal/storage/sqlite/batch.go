package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/validation"
)

// Batch operations run in one transaction. Per-element validation and
// constraint failures are recorded in the result and do not roll back
// succeeded siblings; the transaction commits at the end regardless. Only
// infrastructure errors (I/O, serialization) abort the whole batch.

// BatchSave upserts up to MaxBatchSize items for one session.
func (s *Store) BatchSave(ctx context.Context, sessionID string, items []types.BatchSaveInput, defaultChannel string) (*types.BatchResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("batch is empty: %w", storage.ErrInvalidArgument)
	}
	if len(items) > types.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d items exceeds maximum of %d: %w",
			len(items), types.MaxBatchSize, storage.ErrInvalidArgument)
	}
	if defaultChannel == "" {
		defaultChannel = types.DefaultChannel
	}

	var incoming int64
	for _, in := range items {
		incoming += int64(len(in.Value))
	}
	if err := s.checkCapacity(ctx, incoming); err != nil {
		return nil, err
	}

	result := &types.BatchResult{Results: make([]types.BatchItemResult, 0, len(items))}
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if err := sessionExists(ctx, conn, sessionID); err != nil {
			return err
		}
		for i, in := range items {
			r := types.BatchItemResult{Index: i, Key: in.Key}

			if err := validation.ValidateKey(in.Key); err != nil {
				r.Error = err.Error()
				result.Results = append(result.Results, r)
				result.Failed++
				continue
			}
			if in.Channel != "" {
				if err := validation.ValidateChannelName(in.Channel); err != nil {
					r.Error = err.Error()
					result.Results = append(result.Results, r)
					result.Failed++
					continue
				}
			}
			item := &types.ContextItem{
				SessionID: sessionID,
				Key:       in.Key,
				Value:     in.Value,
				Category:  in.Category,
				Priority:  in.Priority,
				Channel:   in.Channel,
				Metadata:  in.Metadata,
			}
			if in.IsPrivate != nil {
				item.IsPrivate = *in.IsPrivate
			}
			if item.Channel == "" {
				item.Channel = defaultChannel
			}
			if item.Category == "" {
				item.Category = types.CategoryNote
			}
			if item.Priority == "" {
				item.Priority = types.PriorityNormal
			}
			item.Size = len(item.Value)
			if err := item.Validate(); err != nil {
				r.Error = err.Error()
				result.Results = append(result.Results, r)
				result.Failed++
				continue
			}

			action, err := upsertItem(ctx, conn, item)
			if err != nil {
				if isConstraintError(err) {
					r.Error = err.Error()
					result.Results = append(result.Results, r)
					result.Failed++
					continue
				}
				return err
			}
			r.Success = true
			r.Action = action
			r.Item = item
			result.Results = append(result.Results, r)
			result.Succeeded++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchUpdate applies partial field updates, either per-key or to every
// key matching a glob pattern. Only provided fields are set; updated_at is
// bumped on every touched row.
func (s *Store) BatchUpdate(ctx context.Context, sessionID string, req types.BatchUpdateRequest) (*types.BatchResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}

	updates := req.Updates
	if req.KeyPattern != "" {
		if req.Fields == nil {
			return nil, fmt.Errorf("keyPattern requires a fields object: %w", storage.ErrInvalidArgument)
		}
		keys, err := s.keysMatching(ctx, sessionID, req.KeyPattern)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			u := *req.Fields
			u.Key = k
			updates = append(updates, u)
		}
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("nothing to update: %w", storage.ErrInvalidArgument)
	}
	if len(updates) > types.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d updates exceeds maximum of %d: %w",
			len(updates), types.MaxBatchSize, storage.ErrInvalidArgument)
	}

	result := &types.BatchResult{Results: make([]types.BatchItemResult, 0, len(updates))}
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for i, u := range updates {
			r := types.BatchItemResult{Index: i, Key: u.Key}

			item, err := applyItemUpdate(ctx, conn, sessionID, u)
			switch {
			case err == nil:
				r.Success = true
				r.Action = "updated"
				r.Item = item
				result.Succeeded++
			case isNotFound(err), isElementError(err):
				r.Error = err.Error()
				result.Failed++
			default:
				return err
			}
			result.Results = append(result.Results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyItemUpdate validates and applies one partial update inside an open
// transaction.
func applyItemUpdate(ctx context.Context, conn *sql.Conn, sessionID string, u types.BatchUpdateInput) (*types.ContextItem, error) {
	if u.Key == "" {
		return nil, fmt.Errorf("update key cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if u.Value == nil && u.Category == nil && u.Priority == nil && u.Channel == nil {
		return nil, fmt.Errorf("update for %q has no fields: %w", u.Key, storage.ErrInvalidArgument)
	}
	if u.Value != nil {
		if err := validation.ValidateValue(*u.Value); err != nil {
			return nil, fmt.Errorf("%v: %w", err, storage.ErrInvalidArgument)
		}
	}
	if u.Category != nil && !u.Category.IsValid() {
		return nil, fmt.Errorf("invalid category: %s: %w", *u.Category, storage.ErrInvalidArgument)
	}
	if u.Priority != nil && !u.Priority.IsValid() {
		return nil, fmt.Errorf("invalid priority: %s: %w", *u.Priority, storage.ErrInvalidArgument)
	}
	if u.Channel != nil {
		if err := validation.ValidateChannelName(*u.Channel); err != nil {
			return nil, fmt.Errorf("%v: %w", err, storage.ErrInvalidArgument)
		}
	}

	row := conn.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM context_items WHERE session_id = ? AND key = ?",
		sessionID, u.Key)
	item, err := scanItem(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "update item %q", u.Key)
	}

	if u.Value != nil {
		item.Value = *u.Value
		item.Size = len(*u.Value)
	}
	if u.Category != nil {
		item.Category = *u.Category
	}
	if u.Priority != nil {
		item.Priority = *u.Priority
	}
	if u.Channel != nil {
		item.Channel = *u.Channel
	}

	if _, err := upsertItem(ctx, conn, item); err != nil {
		return nil, err
	}
	return item, nil
}

// BatchDelete removes items selected by explicit keys, a glob pattern, or
// a whole channel. DryRun reports the match set without mutating.
func (s *Store) BatchDelete(ctx context.Context, sessionID string, req types.BatchDeleteRequest) (*types.BatchResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if len(req.Keys) == 0 && req.KeyPattern == "" && req.Channel == "" {
		return nil, fmt.Errorf("batch delete needs keys, a key pattern, or a channel: %w", storage.ErrInvalidArgument)
	}
	if len(req.Keys) > types.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d keys exceeds maximum of %d: %w",
			len(req.Keys), types.MaxBatchSize, storage.ErrInvalidArgument)
	}

	keys := req.Keys
	if len(keys) == 0 {
		var err error
		keys, err = s.selectDeleteTargets(ctx, sessionID, req)
		if err != nil {
			return nil, err
		}
	}

	result := &types.BatchResult{
		DryRun:  req.DryRun,
		Results: make([]types.BatchItemResult, 0, len(keys)),
	}
	if req.DryRun {
		for i, k := range keys {
			result.Results = append(result.Results,
				types.BatchItemResult{Index: i, Key: k, Success: true, Action: "deleted"})
		}
		result.Succeeded = len(keys)
		return result, nil
	}

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for i, k := range keys {
			r := types.BatchItemResult{Index: i, Key: k}
			item, err := deleteItem(ctx, conn, sessionID, k)
			switch {
			case err == nil:
				r.Success = true
				r.Action = "deleted"
				r.Item = item
				result.Succeeded++
			case isNotFound(err):
				r.Error = err.Error()
				result.Failed++
			default:
				return err
			}
			result.Results = append(result.Results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// selectDeleteTargets resolves a pattern or channel selector into keys.
func (s *Store) selectDeleteTargets(ctx context.Context, sessionID string, req types.BatchDeleteRequest) ([]string, error) {
	query := "SELECT key FROM context_items WHERE session_id = ?"
	args := []interface{}{sessionID}
	if req.KeyPattern != "" {
		query += " AND key GLOB ?"
		args = append(args, req.KeyPattern)
	}
	if req.Channel != "" {
		query += " AND channel = ?"
		args = append(args, req.Channel)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("select delete targets", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapDBError("scan delete target", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// keysMatching lists a session's keys matching a glob pattern.
func (s *Store) keysMatching(ctx context.Context, sessionID, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM context_items WHERE session_id = ? AND key GLOB ? ORDER BY created_at DESC, id ASC",
		sessionID, pattern)
	if err != nil {
		return nil, wrapDBError("select pattern matches", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapDBError("scan pattern match", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// isElementError reports whether err should fail only its batch element.
func isElementError(err error) bool {
	return isConstraintError(err) || errors.Is(err, storage.ErrInvalidArgument)
}
