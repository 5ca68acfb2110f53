package rpc

import (
	"fmt"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/timeparse"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func (s *Server) handleSave(req *Request) Response {
	var args SaveArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	item := &types.ContextItem{
		SessionID: sessionID,
		Key:       args.Key,
		Value:     args.Value,
		Category:  types.Category(args.Category),
		Priority:  types.Priority(args.Priority),
		Channel:   args.Channel,
		Metadata:  args.Metadata,
		IsPrivate: args.IsPrivate,
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	action, err := s.store.SaveItem(ctx, item)
	if err != nil {
		return fail(req, err)
	}

	evType := types.EventCreated
	if action == "updated" {
		evType = types.EventUpdated
	}
	s.publishEvent(evType, item)

	return ok(req, SaveResponse{Item: item, Action: action})
}

func (s *Server) handleGet(req *Request) Response {
	var args GetArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	item, err := s.store.GetItemByKey(ctx, sessionID, args.Key)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, item)
}

func (s *Server) handleDelete(req *Request) Response {
	var args DeleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	item, err := s.store.DeleteItem(ctx, sessionID, args.Key)
	if err != nil {
		return fail(req, err)
	}
	s.publishEvent(types.EventDeleted, item)
	return ok(req, map[string]string{"key": args.Key, "action": "deleted"})
}

// handleSearch serves both search and search_all. Both span sessions
// under the privacy rule; search_all exists as an explicit alias for
// callers that read better with it.
func (s *Server) handleSearch(req *Request, allSessions bool) Response {
	var args SearchArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	_ = allSessions
	opts, err := searchOptions(sessionID, args)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.store.SearchItems(ctx, *opts)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, result)
}

func searchOptions(sessionID string, args SearchArgs) (*types.SearchOptions, error) {
	opts := &types.SearchOptions{
		Query:           args.Query,
		SearchIn:        args.SearchIn,
		SessionID:       sessionID,
		Channels:        args.Channels,
		KeyPattern:      args.KeyPattern,
		Sort:            types.SortOrder(args.Sort),
		Offset:          args.Offset,
		IncludeMetadata: args.IncludeMeta,
	}
	if args.Category != "" {
		cat := types.Category(args.Category)
		opts.Category = &cat
	}
	for _, p := range args.Priorities {
		opts.Priorities = append(opts.Priorities, types.Priority(p))
	}

	if args.Limit != nil {
		opts.Limit = *args.Limit
		if *args.Limit == 0 {
			opts.ExplicitUnlimited = true
		}
	} else {
		opts.Limit = -1 // Normalize applies the default
	}

	now := time.Now()
	if args.CreatedAfter != "" {
		t, err := timeparse.Parse(args.CreatedAfter, now)
		if err != nil {
			return nil, fmt.Errorf("invalid createdAfter %q: %w", args.CreatedAfter, storage.ErrInvalidArgument)
		}
		opts.CreatedAfter = &t
	}
	if args.CreatedBefore != "" {
		t, err := timeparse.Parse(args.CreatedBefore, now)
		if err != nil {
			return nil, fmt.Errorf("invalid createdBefore %q: %w", args.CreatedBefore, storage.ErrInvalidArgument)
		}
		opts.CreatedBefore = &t
	}
	return opts, nil
}

func (s *Server) handleReassignChannel(req *Request) Response {
	var args ReassignChannelArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}
	args.ReassignRequest.SessionID = sessionID

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.store.ReassignChannel(ctx, args.ReassignRequest)
	if err != nil {
		return fail(req, err)
	}
	if !result.DryRun {
		for _, item := range result.Items {
			s.publishEvent(types.EventUpdated, item)
		}
	}
	return ok(req, result)
}
