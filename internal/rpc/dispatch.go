package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/untoldecay/ContextKeeper/internal/debug"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

func (s *Server) handleRequest(req *Request) Response {
	start := time.Now()

	if req.Tool != OpPing && req.Tool != OpHealth {
		if err := s.checkVersionCompatibility(req.ClientVersion); err != nil {
			return failMsg(req, err.Error(), "FailedPrecondition")
		}
		if err := s.validateDatabaseBinding(req); err != nil {
			return failMsg(req, err.Error(), "FailedPrecondition")
		}
	}

	s.lastActivityTime.Store(time.Now())

	var resp Response
	switch req.Tool {
	case OpSessionStart:
		resp = s.handleSessionStart(req)
	case OpSessionList:
		resp = s.handleSessionList(req)
	case OpSetProjectDir:
		resp = s.handleSetProjectDir(req)
	case OpSave:
		resp = s.handleSave(req)
	case OpGet:
		resp = s.handleGet(req)
	case OpDelete:
		resp = s.handleDelete(req)
	case OpSearch:
		resp = s.handleSearch(req, false)
	case OpSearchAll:
		resp = s.handleSearch(req, true)
	case OpBatchSave:
		resp = s.handleBatchSave(req)
	case OpBatchDelete:
		resp = s.handleBatchDelete(req)
	case OpBatchUpdate:
		resp = s.handleBatchUpdate(req)
	case OpLink:
		resp = s.handleLink(req)
	case OpGetRelated:
		resp = s.handleGetRelated(req)
	case OpCheckpoint:
		resp = s.handleCheckpoint(req)
	case OpRestoreCheckpoint:
		resp = s.handleRestoreCheckpoint(req)
	case OpBranchSession:
		resp = s.handleBranchSession(req)
	case OpMergeSessions:
		resp = s.handleMergeSessions(req)
	case OpCompress:
		resp = s.handleCompress(req)
	case OpTimeline:
		resp = s.handleTimeline(req)
	case OpJournalEntry:
		resp = s.handleJournalEntry(req)
	case OpWatch:
		resp = s.handleWatch(req)
	case OpReassignChannel:
		resp = s.handleReassignChannel(req)
	case OpAdmin:
		resp = s.handleAdmin(req)
	case OpPing:
		resp = s.handlePing(req)
	case OpHealth:
		resp = s.handleHealth(req)
	case OpStatus:
		resp = s.handleStatus(req)
	case OpShutdown:
		resp = s.handleShutdown(req)
	default:
		resp = failMsg(req, fmt.Sprintf("unknown tool: %s", req.Tool), "InvalidArgument")
	}

	s.recordToolEvent(req, resp, time.Since(start))
	resp.RequestID = req.RequestID
	return resp
}

// recordToolEvent appends one row to the tool_events audit trail.
// Diagnostics and watch polls are excluded; they would dominate the log.
func (s *Server) recordToolEvent(req *Request, resp Response, elapsed time.Duration) {
	switch req.Tool {
	case OpPing, OpHealth, OpStatus, OpWatch:
		return
	}

	ev := &types.ToolEvent{
		SessionID:  s.sessions.CurrentID(),
		Tool:       req.Tool,
		Actor:      req.Actor,
		DurationMs: elapsed.Milliseconds(),
		Success:    resp.Success,
		Error:      resp.Error,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.RecordToolEvent(ctx, ev); err != nil {
		debug.Logf("failed to record tool event for %s: %v", req.Tool, err)
	}
}

// reqCtx returns a context bounded by the request timeout.
func (s *Server) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.requestTimeout)
}

// resolveSession prefers an explicit session id and falls back to the
// current session.
func (s *Server) resolveSession(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	current, err := s.sessions.RequireCurrent()
	if err != nil {
		return "", err
	}
	return current.ID, nil
}

// checkVersionCompatibility refuses clients from a different major
// version, and clients newer than the server within a major version.
func (s *Server) checkVersionCompatibility(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}

	serverVer := ServerVersion
	if !strings.HasPrefix(serverVer, "v") {
		serverVer = "v" + serverVer
	}
	clientVer := clientVersion
	if !strings.HasPrefix(clientVer, "v") {
		clientVer = "v" + clientVer
	}
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		// Dev builds carry non-semver versions; let them through.
		return nil
	}

	if semver.Major(serverVer) != semver.Major(clientVer) {
		return fmt.Errorf("incompatible major versions: client %s, engine %s; align the ck binary and the daemon", clientVersion, ServerVersion)
	}
	if semver.Compare(serverVer, clientVer) < 0 {
		return fmt.Errorf("engine %s is older than client %s; restart the daemon with the new binary", ServerVersion, clientVersion)
	}
	return nil
}

// validateDatabaseBinding rejects requests aimed at a different database.
func (s *Server) validateDatabaseBinding(req *Request) error {
	if req.ExpectedDB == "" {
		return nil
	}
	expected, err := filepath.EvalSymlinks(req.ExpectedDB)
	if err != nil {
		expected = filepath.Clean(req.ExpectedDB)
	}
	serving, err := filepath.EvalSymlinks(s.store.Path())
	if err != nil {
		serving = filepath.Clean(s.store.Path())
	}
	if expected != serving {
		return fmt.Errorf("database mismatch: client expects %s but engine serves %s", req.ExpectedDB, s.store.Path())
	}
	return nil
}

func ok(req *Request, v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return failMsg(req, fmt.Sprintf("failed to encode response: %v", err), "Internal")
	}
	return Response{Success: true, Data: data}
}

func fail(req *Request, err error) Response {
	return Response{Success: false, Error: err.Error(), Code: storage.Kind(err)}
}

func failMsg(req *Request, msg, code string) Response {
	return Response{Success: false, Error: msg, Code: code}
}

func decodeArgs(req *Request, v interface{}) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("invalid arguments: %v: %w", err, storage.ErrInvalidArgument)
	}
	return nil
}
