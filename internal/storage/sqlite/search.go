package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/validation"
)

// sortClauses maps every recognized sort to its ORDER BY body. Each ends
// with the created_at DESC, id ASC tie-break so pagination stays stable
// across identical sort keys.
var sortClauses = map[types.SortOrder]string{
	types.SortCreatedDesc: "created_at DESC, id ASC",
	types.SortCreatedAsc:  "created_at ASC, id ASC",
	types.SortUpdatedDesc: "updated_at DESC, created_at DESC, id ASC",
	types.SortUpdatedAsc:  "updated_at ASC, created_at DESC, id ASC",
	types.SortKeyAsc:      "key ASC, created_at DESC, id ASC",
	types.SortKeyDesc:     "key DESC, created_at DESC, id ASC",
	types.SortPriority:    "CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END ASC, created_at DESC, id ASC",
}

// SearchItems runs the unified query engine behind both textual search and
// filtered listing.
//
// The viewer's session feeds ONLY the privacy predicate
// (is_private = 0 OR session_id = :viewer); it is never an equality filter.
// Scoping results to the viewer's session alone would hide public items
// owned by sibling sessions.
func (s *Store) SearchItems(ctx context.Context, opts types.SearchOptions) (*types.SearchResult, error) {
	opts.Normalize()

	if opts.Category != nil && !opts.Category.IsValid() {
		return nil, fmt.Errorf("invalid category: %s: %w", *opts.Category, storage.ErrInvalidArgument)
	}
	for _, p := range opts.Priorities {
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid priority: %s: %w", p, storage.ErrInvalidArgument)
		}
	}
	for _, f := range opts.SearchIn {
		if f != "key" && f != "value" {
			return nil, fmt.Errorf("searchIn accepts only \"key\" and \"value\", got %q: %w", f, storage.ErrInvalidArgument)
		}
	}
	if opts.CreatedAfter != nil && opts.CreatedBefore != nil && opts.CreatedBefore.Before(*opts.CreatedAfter) {
		return nil, fmt.Errorf("createdBefore precedes createdAfter: %w", storage.ErrInvalidArgument)
	}

	whereClauses := []string{}
	args := []interface{}{}

	// Privacy rule, applied unconditionally and first.
	if opts.SessionID != "" {
		whereClauses = append(whereClauses, "(is_private = 0 OR session_id = ?)")
		args = append(args, opts.SessionID)
	} else {
		whereClauses = append(whereClauses, "is_private = 0")
	}

	if sanitized := validation.SanitizeQuery(opts.Query); sanitized != "" {
		pattern := "%" + sanitized + "%"
		searchKey, searchValue := true, true
		if len(opts.SearchIn) > 0 {
			searchKey, searchValue = false, false
			for _, f := range opts.SearchIn {
				switch f {
				case "key":
					searchKey = true
				case "value":
					searchValue = true
				}
			}
		}
		switch {
		case searchKey && searchValue:
			whereClauses = append(whereClauses, `(key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\')`)
			args = append(args, pattern, pattern)
		case searchKey:
			whereClauses = append(whereClauses, `key LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		case searchValue:
			whereClauses = append(whereClauses, `value LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
	}

	if opts.Category != nil {
		whereClauses = append(whereClauses, "category = ?")
		args = append(args, string(*opts.Category))
	}

	if len(opts.Channels) > 0 {
		clause, inArgs := buildInClause("channel", opts.Channels)
		whereClauses = append(whereClauses, clause)
		args = append(args, inArgs...)
	}

	if len(opts.Priorities) > 0 {
		values := make([]string, len(opts.Priorities))
		for i, p := range opts.Priorities {
			values[i] = string(p)
		}
		clause, inArgs := buildInClause("priority", values)
		whereClauses = append(whereClauses, clause)
		args = append(args, inArgs...)
	}

	if opts.KeyPattern != "" {
		whereClauses = append(whereClauses, "key GLOB ?")
		args = append(args, opts.KeyPattern)
	}

	// Inclusive after, exclusive before. Bind time.Time so the driver
	// encodes bounds exactly like the stored column values.
	if opts.CreatedAfter != nil {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, opts.CreatedAfter.UTC())
	}
	if opts.CreatedBefore != nil {
		whereClauses = append(whereClauses, "created_at < ?")
		args = append(args, opts.CreatedBefore.UTC())
	}

	whereSQL := "WHERE " + strings.Join(whereClauses, " AND ")

	// totalCount runs under the same predicates, without pagination.
	var total int
	countSQL := "SELECT COUNT(*) FROM context_items " + whereSQL
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, wrapDBError("count search results", err)
	}

	orderSQL := sortClauses[opts.Sort]

	limitSQL := ""
	switch {
	case opts.Limit > 0:
		limitSQL = " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	case opts.Offset > 0:
		// LIMIT -1 keeps the result unbounded while OFFSET applies.
		limitSQL = " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	querySQL := fmt.Sprintf("SELECT %s FROM context_items %s ORDER BY %s%s",
		itemColumns, whereSQL, orderSQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, wrapDBError("search context items", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*types.ContextItem{}
	}

	// Lean results unless the caller opted in: keep key, value, category,
	// priority, and channel; drop size, metadata, and timestamps.
	if !opts.IncludeMetadata {
		for _, item := range items {
			item.Size = 0
			item.Metadata = nil
			item.CreatedAt = time.Time{}
			item.UpdatedAt = time.Time{}
		}
	}

	return &types.SearchResult{
		Items:      items,
		TotalCount: total,
		Pagination: buildPagination(opts, total),
	}, nil
}

// buildPagination derives the result window arithmetic. With an explicit
// unlimited limit the whole result set is one page.
func buildPagination(opts types.SearchOptions, total int) types.Pagination {
	p := types.Pagination{
		DefaultsApplied: types.DefaultsApplied{
			Limit: opts.DefaultedLimit,
			Sort:  opts.DefaultedSort,
		},
	}

	if opts.Limit <= 0 {
		p.Page = 1
		p.PageSize = total
		if total > 0 {
			p.TotalPages = 1
		}
		p.HasPreviousPage = opts.Offset > 0
		if p.HasPreviousPage {
			prev := 0
			p.PreviousOffset = &prev
		}
		return p
	}

	p.PageSize = opts.Limit
	p.Page = opts.Offset/opts.Limit + 1
	p.TotalPages = (total + opts.Limit - 1) / opts.Limit
	p.HasNextPage = opts.Offset+opts.Limit < total
	p.HasPreviousPage = opts.Offset > 0
	if p.HasNextPage {
		next := opts.Offset + opts.Limit
		p.NextOffset = &next
	}
	if p.HasPreviousPage {
		prev := opts.Offset - opts.Limit
		if prev < 0 {
			prev = 0
		}
		p.PreviousOffset = &prev
	}
	return p
}
