package rpc

import (
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func (s *Server) handleLink(req *Request) Response {
	var args LinkArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	rel := &types.Relationship{
		SessionID: sessionID,
		FromKey:   args.FromKey,
		ToKey:     args.ToKey,
		Type:      types.RelationType(args.Type),
		Metadata:  args.Metadata,
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	if err := s.store.AddRelationship(ctx, rel); err != nil {
		return fail(req, err)
	}
	return ok(req, rel)
}

func (s *Server) handleGetRelated(req *Request) Response {
	var args GetRelatedArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	related, err := s.store.GetRelated(ctx, sessionID, args.Key, args.RelatedOptions)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, map[string]interface{}{
		"key":     args.Key,
		"related": related,
	})
}
