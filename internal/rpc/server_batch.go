package rpc

import (
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func (s *Server) handleBatchSave(req *Request) Response {
	var args BatchSaveArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	defaultChannel := ""
	if current := s.sessions.Current(); current != nil && current.ID == sessionID {
		defaultChannel = current.DefaultChannel
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.store.BatchSave(ctx, sessionID, args.Items, defaultChannel)
	if err != nil {
		return fail(req, err)
	}
	s.publishBatch(result)
	return ok(req, result)
}

func (s *Server) handleBatchDelete(req *Request) Response {
	var args BatchDeleteArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.store.BatchDelete(ctx, sessionID, args.BatchDeleteRequest)
	if err != nil {
		return fail(req, err)
	}
	if !result.DryRun {
		s.publishBatch(result)
	}
	return ok(req, result)
}

func (s *Server) handleBatchUpdate(req *Request) Response {
	var args BatchUpdateArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.store.BatchUpdate(ctx, sessionID, args.BatchUpdateRequest)
	if err != nil {
		return fail(req, err)
	}
	s.publishBatch(result)
	return ok(req, result)
}

// publishBatch emits one event per succeeded element. Failed elements
// never committed, so they never reach watchers. The whole group goes to
// the hub in one call, keeping its sequence numbers adjacent even when
// another writer publishes concurrently.
func (s *Server) publishBatch(result *types.BatchResult) {
	var events []*types.MutationEvent
	var embeddable []*types.ContextItem
	for _, r := range result.Results {
		if !r.Success || r.Item == nil {
			continue
		}
		evType := types.EventUpdated
		switch r.Action {
		case "created":
			evType = types.EventCreated
		case "deleted":
			evType = types.EventDeleted
		}
		events = append(events, mutationEvent(evType, r.Item))
		if evType != types.EventDeleted {
			embeddable = append(embeddable, r.Item)
		}
	}
	if len(events) == 0 {
		return
	}
	s.hub.PublishAll(events)
	for _, item := range embeddable {
		s.forwardEmbedding(item)
	}
}
