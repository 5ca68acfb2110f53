package rpc

import (
	"fmt"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/git"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/timeparse"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// handleCheckpoint snapshots the session, or lists snapshots when
// args.List is set.
func (s *Server) handleCheckpoint(req *Request) Response {
	var args CheckpointArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()

	if args.List {
		checkpoints, err := s.store.ListCheckpoints(ctx, sessionID, args.Limit)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, checkpoints)
	}

	cp := &types.Checkpoint{
		SessionID:   sessionID,
		Name:        args.Name,
		Description: args.Description,
	}
	if dir, _ := s.projectDir.Load().(string); dir != "" && git.IsRepo(dir) {
		cp.GitBranch = git.CurrentBranch(dir)
		cp.GitStatus = git.Status(dir)
	}
	if err := s.store.CreateCheckpoint(ctx, cp); err != nil {
		return fail(req, err)
	}
	return ok(req, cp)
}

func (s *Server) handleRestoreCheckpoint(req *Request) Response {
	var args RestoreCheckpointArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	if args.Ref == "" {
		return fail(req, fmt.Errorf("ref is required: %w", storage.ErrInvalidArgument))
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	session, restored, err := s.store.RestoreCheckpoint(ctx, args.Ref, types.RestoreOptions{
		RestoreFiles:   args.RestoreFiles,
		NewSessionName: args.NewSessionName,
	})
	if err != nil {
		return fail(req, err)
	}
	s.sessions.SetCurrent(session)

	return ok(req, map[string]interface{}{
		"session":  session,
		"restored": restored,
	})
}

func (s *Server) handleBranchSession(req *Request) Response {
	var args BranchSessionArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	depth := types.CopyDepth(args.Depth)
	if args.Depth == "" {
		depth = types.CopyShallow
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	branch, copied, err := s.store.BranchSession(ctx, sessionID, args.BranchName, depth)
	if err != nil {
		return fail(req, err)
	}
	// A branch switches the caller onto the fork, like git checkout -b.
	s.sessions.SetCurrent(branch)

	return ok(req, map[string]interface{}{
		"session": branch,
		"copied":  copied,
	})
}

func (s *Server) handleMergeSessions(req *Request) Response {
	var args MergeSessionsArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	if args.SourceSessionID == "" {
		return fail(req, fmt.Errorf("sourceSessionId is required: %w", storage.ErrInvalidArgument))
	}
	targetID, err := s.resolveSession(args.TargetSessionID)
	if err != nil {
		return fail(req, err)
	}

	strategy := types.MergeStrategy(args.Strategy)
	if args.Strategy == "" {
		strategy = types.MergeKeepCurrent
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	merged, skipped, err := s.store.MergeSessions(ctx, args.SourceSessionID, targetID, strategy)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, MergeResponse{Merged: merged, Skipped: skipped})
}

// handleCompress runs a compaction, or lists existing buckets when
// args.ListBuckets is set.
func (s *Server) handleCompress(req *Request) Response {
	var args CompressArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()

	if args.ListBuckets {
		buckets, err := s.compact.Buckets(ctx, sessionID, args.Limit)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, buckets)
	}

	if args.OlderThan == "" {
		return fail(req, fmt.Errorf("olderThan is required: %w", storage.ErrInvalidArgument))
	}
	cutoff, err := timeparse.Parse(args.OlderThan, time.Now())
	if err != nil {
		return fail(req, fmt.Errorf("invalid olderThan %q: %w", args.OlderThan, storage.ErrInvalidArgument))
	}

	creq := types.CompressRequest{
		SessionID:  sessionID,
		OlderThan:  cutoff,
		TargetSize: args.TargetSize,
	}
	for _, c := range args.PreserveCategories {
		creq.PreserveCategories = append(creq.PreserveCategories, types.Category(c))
	}

	result, err := s.compact.Compress(ctx, creq, args.DryRun)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, result)
}

func (s *Server) handleTimeline(req *Request) Response {
	var args TimelineArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	treq := types.TimelineRequest{
		SessionID:    sessionID,
		GroupBy:      args.GroupBy,
		IncludeItems: args.IncludeItems,
	}
	now := time.Now()
	if args.StartDate != "" {
		t, err := timeparse.Parse(args.StartDate, now)
		if err != nil {
			return fail(req, fmt.Errorf("invalid startDate %q: %w", args.StartDate, storage.ErrInvalidArgument))
		}
		treq.Start = &t
	}
	if args.EndDate != "" {
		t, err := timeparse.Parse(args.EndDate, now)
		if err != nil {
			return fail(req, fmt.Errorf("invalid endDate %q: %w", args.EndDate, storage.ErrInvalidArgument))
		}
		treq.End = &t
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	buckets, err := s.store.Timeline(ctx, treq)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, buckets)
}

// handleJournalEntry appends a note, or lists entries when args.List is
// set.
func (s *Server) handleJournalEntry(req *Request) Response {
	var args JournalEntryArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()

	if args.List {
		var since, until *time.Time
		now := time.Now()
		if args.Since != "" {
			t, err := timeparse.Parse(args.Since, now)
			if err != nil {
				return fail(req, fmt.Errorf("invalid since %q: %w", args.Since, storage.ErrInvalidArgument))
			}
			since = &t
		}
		if args.Until != "" {
			t, err := timeparse.Parse(args.Until, now)
			if err != nil {
				return fail(req, fmt.Errorf("invalid until %q: %w", args.Until, storage.ErrInvalidArgument))
			}
			until = &t
		}
		entries, err := s.store.ListJournal(ctx, sessionID, since, until, args.Limit)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, entries)
	}

	entry := &types.JournalEntry{
		SessionID: sessionID,
		Entry:     args.Entry,
		Tags:      args.Tags,
		Mood:      args.Mood,
	}
	if err := s.store.AddJournalEntry(ctx, entry); err != nil {
		return fail(req, err)
	}
	return ok(req, entry)
}
