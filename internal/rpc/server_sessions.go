package rpc

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/session"
	"github.com/untoldecay/ContextKeeper/internal/storage"
)

func (s *Server) handleSessionStart(req *Request) Response {
	var args SessionStartArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}

	workingDir := args.WorkingDir
	if workingDir == "" {
		workingDir, _ = s.projectDir.Load().(string)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	sess, err := s.sessions.Start(ctx, session.StartOptions{
		Name:        args.Name,
		Description: args.Description,
		Channel:     args.Channel,
		WorkingDir:  workingDir,
		Parent:      args.Parent,
		Branch:      args.Branch,
		Continue:    args.Continue,
	})
	if err != nil {
		return fail(req, err)
	}
	return ok(req, sess)
}

func (s *Server) handleSessionList(req *Request) Response {
	var args SessionListArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	sessions, err := s.sessions.List(ctx, args.Limit)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, sessions)
}

func (s *Server) handleSetProjectDir(req *Request) Response {
	var args SetProjectDirArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}
	if args.Path == "" {
		return fail(req, fmt.Errorf("path is required: %w", storage.ErrInvalidArgument))
	}
	abs, err := filepath.Abs(args.Path)
	if err != nil {
		return fail(req, fmt.Errorf("invalid path %q: %w", args.Path, storage.ErrInvalidArgument))
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fail(req, fmt.Errorf("not a directory: %s: %w", abs, storage.ErrInvalidArgument))
	}
	s.projectDir.Store(abs)
	return ok(req, map[string]string{"path": abs})
}

func (s *Server) handlePing(req *Request) Response {
	return ok(req, PingResponse{Message: "pong", Version: ServerVersion})
}

func (s *Server) handleHealth(req *Request) Response {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ctx, cancel := s.reqCtx()
	defer cancel()

	status := "healthy"
	dbError := ""
	_, pingErr := s.store.DatabaseStats(ctx)
	dbResponseMs := float64(time.Since(start).Microseconds()) / 1000

	if pingErr != nil {
		status = "unhealthy"
		dbError = pingErr.Error()
	} else if dbResponseMs > 500 {
		status = "degraded"
	}

	compatible := s.checkVersionCompatibility(req.ClientVersion) == nil

	health := HealthResponse{
		Status:         status,
		Version:        ServerVersion,
		ClientVersion:  req.ClientVersion,
		Compatible:     compatible,
		Uptime:         time.Since(s.startTime).Seconds(),
		DBResponseTime: dbResponseMs,
		ActiveConns:    atomic.LoadInt32(&s.activeConns),
		MaxConns:       s.maxConns,
		Error:          dbError,
	}

	resp := ok(req, health)
	resp.Success = status != "unhealthy"
	resp.Error = dbError
	return resp
}

func (s *Server) handleStatus(req *Request) Response {
	ctx, cancel := s.reqCtx()
	defer cancel()

	lastActivity, _ := s.lastActivityTime.Load().(time.Time)

	status := StatusResponse{
		Version:          ServerVersion,
		WorkspacePath:    s.workspacePath,
		DatabasePath:     s.store.Path(),
		SocketPath:       s.socketPath,
		PID:              os.Getpid(),
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		LastActivityTime: lastActivity.Format(time.RFC3339),
		CurrentSession:   s.sessions.Current(),
		Watchers:         len(s.hub.Watchers()),
		Sequence:         s.hub.Sequence(),
	}

	if stats, err := s.store.DatabaseStats(ctx); err == nil {
		status.Database = stats
	}
	if current := s.sessions.CurrentID(); current != "" {
		if ss, err := s.sessions.Stats(ctx, current); err == nil {
			status.SessionStats = ss
		}
	}
	return ok(req, status)
}

func (s *Server) handleShutdown(req *Request) Response {
	go func() {
		// Give the response a moment to reach the client.
		time.Sleep(100 * time.Millisecond)
		_ = s.Stop()
	}()
	return ok(req, map[string]string{"message": "shutting down"})
}
