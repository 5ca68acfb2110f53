package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
)

// handleWatch multiplexes the watcher lifecycle: create registers a
// cursor, poll long-polls it, cancel removes it.
func (s *Server) handleWatch(req *Request) Response {
	var args WatchArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}

	switch args.Action {
	case "create":
		sessionID, err := s.resolveSession(args.SessionID)
		if err != nil {
			return fail(req, err)
		}
		w, err := s.hub.CreateWatcher(sessionID, args.Filter, args.StartFrom)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, WatchCreateResponse{
			WatcherID:       w.ID,
			CurrentSequence: s.hub.Sequence(),
		})

	case "poll":
		if args.WatcherID == "" {
			return fail(req, fmt.Errorf("watcherId is required: %w", storage.ErrInvalidArgument))
		}
		wait := time.Duration(args.TimeoutMs) * time.Millisecond
		// Leave headroom under the request timeout so the poll answers
		// before the transport gives up.
		limit := s.requestTimeout - time.Second
		if limit > 0 && wait > limit {
			wait = limit
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		defer cancel()
		result, err := s.hub.Poll(ctx, args.WatcherID, args.Max, wait)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, result)

	case "cancel":
		if args.WatcherID == "" {
			return fail(req, fmt.Errorf("watcherId is required: %w", storage.ErrInvalidArgument))
		}
		s.hub.CancelWatcher(args.WatcherID)
		return ok(req, map[string]string{"watcherId": args.WatcherID, "action": "cancelled"})

	default:
		return fail(req, fmt.Errorf("unknown watch action %q: %w", args.Action, storage.ErrInvalidArgument))
	}
}
