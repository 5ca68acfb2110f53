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

const relationshipColumns = "id, session_id, from_key, to_key, relation_type, metadata, created_at"

// AddRelationship links two items of one session with a typed edge. Both
// endpoints must exist; duplicate edges (same from, to, type) are rejected.
// Self-links are legal.
func (s *Store) AddRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel.SessionID == "" {
		return fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if rel.FromKey == "" || rel.ToKey == "" {
		return fmt.Errorf("relationship endpoints cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if !rel.Type.IsValid() {
		return fmt.Errorf("invalid relationship type: %s: %w", rel.Type, storage.ErrInvalidArgument)
	}

	for _, key := range []string{rel.FromKey, rel.ToKey} {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM context_items WHERE session_id = ? AND key = ?",
			rel.SessionID, key).Scan(&n)
		if err != nil {
			return wrapDBError("check relationship endpoint", err)
		}
		if n == 0 {
			return fmt.Errorf("relationship endpoint %q does not exist: %w", key, storage.ErrFailedPrecondition)
		}
	}

	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	meta := "{}"
	if len(rel.Metadata) > 0 {
		meta = string(rel.Metadata)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_relationships (id, session_id, from_key, to_key, relation_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.SessionID, rel.FromKey, rel.ToKey, string(rel.Type), meta, rel.CreatedAt)
	return wrapDBErrorf(err, "link %q -> %q", rel.FromKey, rel.ToKey)
}

// edge is one adjacency row loaded for traversal.
type edge struct {
	other     string
	relType   types.RelationType
	direction string
}

// GetRelated returns the neighborhood of key. With MaxDepth > 1 the walk
// expands breadth-first, recording the path to each node and never
// revisiting one; the first (shortest) path wins.
func (s *Store) GetRelated(ctx context.Context, sessionID, key string, opts types.RelatedOptions) ([]*types.RelatedItem, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty: %w", storage.ErrInvalidArgument)
	}
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty: %w", storage.ErrInvalidArgument)
	}
	direction := opts.Direction
	switch direction {
	case "":
		direction = "both"
	case "outgoing", "incoming", "both":
	default:
		return nil, fmt.Errorf("direction must be outgoing, incoming, or both, got %q: %w",
			opts.Direction, storage.ErrInvalidArgument)
	}
	for _, t := range opts.Types {
		if !t.IsValid() {
			return nil, fmt.Errorf("invalid relationship type: %s: %w", t, storage.ErrInvalidArgument)
		}
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	var related []*types.RelatedItem
	visited := map[string]bool{key: true}

	type queued struct {
		key   string
		depth int
		path  []string
	}
	frontier := []queued{{key: key, depth: 0, path: []string{key}}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := s.adjacentEdges(ctx, sessionID, cur.key, direction, opts.Types)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if visited[e.other] {
				continue
			}
			visited[e.other] = true
			path := append(append([]string{}, cur.path...), e.other)
			ri := &types.RelatedItem{
				Key:       e.other,
				Type:      e.relType,
				Direction: e.direction,
				Depth:     cur.depth + 1,
				Path:      path,
			}
			if opts.IncludeItems {
				item, err := s.GetOwnItem(ctx, sessionID, e.other)
				if err == nil {
					ri.Item = item
				} else if !isNotFound(err) {
					return nil, err
				}
			}
			related = append(related, ri)
			frontier = append(frontier, queued{key: e.other, depth: cur.depth + 1, path: path})
		}
	}
	return related, nil
}

// adjacentEdges loads the one-hop neighbors of key in the requested
// directions, optionally filtered by edge type.
func (s *Store) adjacentEdges(ctx context.Context, sessionID, key, direction string, relTypes []types.RelationType) ([]edge, error) {
	var edges []edge

	typeClause := ""
	var typeArgs []interface{}
	if len(relTypes) > 0 {
		values := make([]string, len(relTypes))
		for i, t := range relTypes {
			values[i] = string(t)
		}
		clause, args := buildInClause("relation_type", values)
		typeClause = " AND " + clause
		typeArgs = args
	}

	if direction == "outgoing" || direction == "both" {
		args := append([]interface{}{sessionID, key}, typeArgs...)
		rows, err := s.db.QueryContext(ctx,
			"SELECT to_key, relation_type FROM context_relationships WHERE session_id = ? AND from_key = ?"+
				typeClause+" ORDER BY created_at ASC, id ASC", args...)
		if err != nil {
			return nil, wrapDBError("select outgoing edges", err)
		}
		edges, err = appendEdges(edges, rows, "outgoing")
		if err != nil {
			return nil, err
		}
	}

	if direction == "incoming" || direction == "both" {
		args := append([]interface{}{sessionID, key}, typeArgs...)
		rows, err := s.db.QueryContext(ctx,
			"SELECT from_key, relation_type FROM context_relationships WHERE session_id = ? AND to_key = ?"+
				typeClause+" ORDER BY created_at ASC, id ASC", args...)
		if err != nil {
			return nil, wrapDBError("select incoming edges", err)
		}
		edges, err = appendEdges(edges, rows, "incoming")
		if err != nil {
			return nil, err
		}
	}
	return edges, nil
}

func appendEdges(edges []edge, rows rowsLike, direction string) ([]edge, error) {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e edge
		e.direction = direction
		if err := rows.Scan(&e.other, &e.relType); err != nil {
			return nil, wrapDBError("scan edge", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// rowsLike is the subset of *sql.Rows the edge scanner needs.
type rowsLike interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// DetectCycles finds every cycle in the session's depends_on subgraph.
// Depth-first with a recursion stack; each cycle is reported once, listed
// from its entry node.
func (s *Store) DetectCycles(ctx context.Context, sessionID string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT from_key, to_key FROM context_relationships WHERE session_id = ? AND relation_type = ?",
		sessionID, string(types.RelationDependsOn))
	if err != nil {
		return nil, wrapDBError("select depends_on edges", err)
	}
	defer func() { _ = rows.Close() }()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, wrapDBError("scan depends_on edge", err)
		}
		adjacency[from] = append(adjacency[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("select depends_on edges", err)
	}

	nodes := make([]string, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		sort.Strings(adjacency[n])
	}

	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		for _, next := range adjacency[node] {
			if onStack[next] {
				// Close the cycle from next's position on the stack.
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				cycles = append(cycles, append([]string{}, stack[start:]...))
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[node] = false
	}

	for _, n := range nodes {
		if !visited[n] {
			visit(n)
		}
	}
	return cycles, nil
}

// RelationshipStats summarizes a session's graph: totals, counts by type,
// the topN most-connected keys, and items with no edges at all.
func (s *Store) RelationshipStats(ctx context.Context, sessionID string, topN int) (*types.RelationshipStats, error) {
	if topN <= 0 {
		topN = 5
	}
	stats := &types.RelationshipStats{
		ByType:  make(map[types.RelationType]int),
		Orphans: []string{},
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT relation_type, COUNT(*) FROM context_relationships WHERE session_id = ? GROUP BY relation_type",
		sessionID)
	if err != nil {
		return nil, wrapDBError("count relationships by type", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t types.RelationType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, wrapDBError("scan type count", err)
		}
		stats.ByType[t] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("count relationships by type", err)
	}

	degreeRows, err := s.db.QueryContext(ctx, `
		SELECT key, COUNT(*) AS degree FROM (
			SELECT from_key AS key FROM context_relationships WHERE session_id = ?
			UNION ALL
			SELECT to_key AS key FROM context_relationships WHERE session_id = ?
		) GROUP BY key ORDER BY degree DESC, key ASC LIMIT ?`,
		sessionID, sessionID, topN)
	if err != nil {
		return nil, wrapDBError("rank connected keys", err)
	}
	defer func() { _ = degreeRows.Close() }()
	for degreeRows.Next() {
		var d types.NodeDegree
		if err := degreeRows.Scan(&d.Key, &d.Degree); err != nil {
			return nil, wrapDBError("scan node degree", err)
		}
		stats.MostConnected = append(stats.MostConnected, d)
	}
	if err := degreeRows.Err(); err != nil {
		return nil, wrapDBError("rank connected keys", err)
	}

	orphanRows, err := s.db.QueryContext(ctx, `
		SELECT key FROM context_items
		WHERE session_id = ?
		  AND key NOT IN (SELECT from_key FROM context_relationships WHERE session_id = ?)
		  AND key NOT IN (SELECT to_key FROM context_relationships WHERE session_id = ?)
		ORDER BY key ASC`,
		sessionID, sessionID, sessionID)
	if err != nil {
		return nil, wrapDBError("select orphan keys", err)
	}
	defer func() { _ = orphanRows.Close() }()
	for orphanRows.Next() {
		var k string
		if err := orphanRows.Scan(&k); err != nil {
			return nil, wrapDBError("scan orphan key", err)
		}
		stats.Orphans = append(stats.Orphans, k)
	}
	return stats, orphanRows.Err()
}
