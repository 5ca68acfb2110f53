package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// SetRetentionPolicy creates or updates a named policy. A policy must
// bound something, either by age or by count.
func (s *Store) SetRetentionPolicy(ctx context.Context, policy *types.RetentionPolicy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if policy.MaxAgeDays <= 0 && policy.MaxCount <= 0 {
		return fmt.Errorf("policy %q needs maxAgeDays or maxCount: %w", policy.Name, storage.ErrInvalidArgument)
	}
	if policy.Category != "" && !policy.Category.IsValid() {
		return fmt.Errorf("invalid category: %s: %w", policy.Category, storage.ErrInvalidArgument)
	}
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (id, name, category, channel, max_age_days, max_count, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			channel = excluded.channel,
			max_age_days = excluded.max_age_days,
			max_count = excluded.max_count,
			enabled = excluded.enabled`,
		policy.ID, policy.Name, string(policy.Category), policy.Channel,
		policy.MaxAgeDays, policy.MaxCount, boolToInt(policy.Enabled), policy.CreatedAt)
	return wrapDBError("set retention policy", err)
}

// ListRetentionPolicies returns every policy ordered by name.
func (s *Store) ListRetentionPolicies(ctx context.Context) ([]*types.RetentionPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, channel, max_age_days, max_count, enabled, created_at
		FROM retention_policies ORDER BY name ASC`)
	if err != nil {
		return nil, wrapDBError("list retention policies", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []*types.RetentionPolicy
	for rows.Next() {
		var p types.RetentionPolicy
		var category string
		var enabled int
		err := rows.Scan(&p.ID, &p.Name, &category, &p.Channel,
			&p.MaxAgeDays, &p.MaxCount, &enabled, &p.CreatedAt)
		if err != nil {
			return nil, wrapDBError("scan retention policy", err)
		}
		p.Category = types.Category(category)
		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// DeleteRetentionPolicy removes a policy by id.
func (s *Store) DeleteRetentionPolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retention_policies WHERE id = ?", id)
	if err != nil {
		return wrapDBError("delete retention policy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete retention policy", err)
	}
	if n == 0 {
		return fmt.Errorf("retention policy %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// retentionTarget is one item a policy wants gone.
type retentionTarget struct {
	id        string
	sessionID string
	key       string
}

// ApplyRetention runs every enabled policy and deletes (or, with dryRun,
// only reports) the items they match. An item matched by several policies
// is deleted once.
func (s *Store) ApplyRetention(ctx context.Context, dryRun bool) (*types.RetentionResult, error) {
	policies, err := s.ListRetentionPolicies(ctx)
	if err != nil {
		return nil, err
	}

	result := &types.RetentionResult{DryRun: dryRun}
	seen := make(map[string]retentionTarget)

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		targets, err := s.policyTargets(ctx, p)
		if err != nil {
			return nil, err
		}
		run := types.RetentionPolicyRun{PolicyID: p.ID, PolicyName: p.Name, Matched: len(targets)}
		for _, t := range targets {
			run.Keys = append(run.Keys, t.key)
			seen[t.id] = t
		}
		sort.Strings(run.Keys)
		result.PolicyRuns = append(result.PolicyRuns, run)
	}

	result.Deleted = len(seen)
	if dryRun || len(seen) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	err = s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for _, t := range seen {
			_, err := conn.ExecContext(ctx, `
				DELETE FROM context_relationships
				WHERE session_id = ? AND (from_key = ? OR to_key = ?)`,
				t.sessionID, t.key, t.key)
			if err != nil {
				return wrapDBError("delete retained relationships", err)
			}
		}
		idClause, idArgs := buildInClause("id", ids)
		_, err := conn.ExecContext(ctx, "DELETE FROM context_items WHERE "+idClause, idArgs...)
		return wrapDBError("delete retained items", err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// policyTargets finds the items one policy matches: everything past the
// age bound, plus everything past the per-session count bound.
func (s *Store) policyTargets(ctx context.Context, p *types.RetentionPolicy) ([]retentionTarget, error) {
	filterSQL := ""
	var filterArgs []interface{}
	if p.Category != "" {
		filterSQL += " AND category = ?"
		filterArgs = append(filterArgs, string(p.Category))
	}
	if p.Channel != "" {
		filterSQL += " AND channel = ?"
		filterArgs = append(filterArgs, p.Channel)
	}

	byID := make(map[string]retentionTarget)

	if p.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -p.MaxAgeDays)
		query := "SELECT id, session_id, key FROM context_items WHERE created_at < ?" + filterSQL
		args := append([]interface{}{cutoff}, filterArgs...)
		if err := s.collectTargets(ctx, byID, query, args...); err != nil {
			return nil, err
		}
	}

	if p.MaxCount > 0 {
		query := fmt.Sprintf(`
			SELECT id, session_id, key FROM (
				SELECT id, session_id, key,
				       ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY created_at DESC, id ASC) AS rank
				FROM context_items WHERE 1=1%s
			) WHERE rank > ?`, filterSQL)
		args := append(append([]interface{}{}, filterArgs...), p.MaxCount)
		if err := s.collectTargets(ctx, byID, query, args...); err != nil {
			return nil, err
		}
	}

	targets := make([]retentionTarget, 0, len(byID))
	for _, t := range byID {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	return targets, nil
}

func (s *Store) collectTargets(ctx context.Context, into map[string]retentionTarget, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapDBError("select retention targets", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t retentionTarget
		if err := rows.Scan(&t.id, &t.sessionID, &t.key); err != nil {
			return wrapDBError("scan retention target", err)
		}
		into[t.id] = t
	}
	return rows.Err()
}

// SetFeatureFlag creates or updates a named flag.
func (s *Store) SetFeatureFlag(ctx context.Context, flag *types.FeatureFlag) error {
	if flag.Name == "" {
		return fmt.Errorf("flag name cannot be empty: %w", storage.ErrInvalidArgument)
	}
	flag.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		flag.Name, boolToInt(flag.Enabled), flag.Description, flag.UpdatedAt)
	return wrapDBError("set feature flag", err)
}

// GetFeatureFlag fetches one flag by name.
func (s *Store) GetFeatureFlag(ctx context.Context, name string) (*types.FeatureFlag, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, enabled, description, updated_at FROM feature_flags WHERE name = ?", name)

	var f types.FeatureFlag
	var enabled int
	if err := row.Scan(&f.Name, &enabled, &f.Description, &f.UpdatedAt); err != nil {
		return nil, wrapDBErrorf(err, "feature flag %s", name)
	}
	f.Enabled = enabled == 1
	return &f, nil
}

// ListFeatureFlags returns every flag ordered by name.
func (s *Store) ListFeatureFlags(ctx context.Context) ([]*types.FeatureFlag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, enabled, description, updated_at FROM feature_flags ORDER BY name ASC")
	if err != nil {
		return nil, wrapDBError("list feature flags", err)
	}
	defer func() { _ = rows.Close() }()

	var flags []*types.FeatureFlag
	for rows.Next() {
		var f types.FeatureFlag
		var enabled int
		if err := rows.Scan(&f.Name, &enabled, &f.Description, &f.UpdatedAt); err != nil {
			return nil, wrapDBError("scan feature flag", err)
		}
		f.Enabled = enabled == 1
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}
