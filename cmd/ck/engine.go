package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/debug"
	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
)

// currentSessionKey is the store metadata key tracking the active session
// across direct-mode CLI invocations. The daemon keeps its own in memory.
const currentSessionKey = "current_session"

// engine abstracts where tool calls execute: a running daemon over its
// socket, or an in-process server over a directly opened store.
type engine struct {
	workspace string
	dbPath    string

	client *rpc.Client   // daemon mode
	store  *sqlite.Store // direct mode
	server *rpc.Server   // direct mode dispatcher
}

var eng *engine

// workspaceRoot locates the project root: the parent of the nearest .ck
// directory, or of an explicit --db path.
func workspaceRoot() (string, error) {
	if p := config.GetString("db"); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("invalid db path %q: %w", p, err)
		}
		return filepath.Dir(filepath.Dir(abs)), nil
	}
	if dir := config.FindDataDir(); dir != "" {
		return filepath.Dir(dir), nil
	}
	return "", fmt.Errorf("no %s directory found\nHint: run 'ck init' to set up this workspace", config.DataDirName)
}

// openEngine connects to the daemon when one serves this workspace, and
// falls back to direct storage otherwise. Idempotent per invocation.
func openEngine() (*engine, error) {
	if eng != nil {
		return eng, nil
	}

	workspace, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	db := config.DatabasePath()

	if !noDaemon && !config.GetBool("no-daemon") {
		client, err := rpc.TryConnect(workspace)
		if err != nil {
			debug.Logf("daemon probe failed, using direct mode: %v", err)
		} else if client != nil {
			client.SetDatabasePath(db)
			client.SetActor(config.Actor(actorFlag))
			if d := config.GetDuration("request-timeout"); d > 0 {
				client.SetTimeout(d)
			}
			eng = &engine{workspace: workspace, dbPath: db, client: client}
			return eng, nil
		}
	}

	store, err := sqlite.New(context.Background(), db)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	server := rpc.NewServer("", store, workspace)
	resumeCurrentSession(store, server)

	eng = &engine{workspace: workspace, dbPath: db, store: store, server: server}
	return eng, nil
}

// resumeCurrentSession restores the session recorded by a previous
// direct-mode invocation. A stale or missing record just means no
// current session.
func resumeCurrentSession(store *sqlite.Store, server *rpc.Server) {
	ctx := context.Background()
	id, err := store.GetMetadata(ctx, currentSessionKey)
	if err != nil || id == "" {
		return
	}
	if _, err := server.Sessions().Resume(ctx, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			debug.Logf("failed to resume session %s: %v", id, err)
		}
	}
}

// call executes one tool and decodes the payload into out.
func (e *engine) call(tool string, args, out interface{}) error {
	if e.client != nil {
		return e.client.Call(tool, args, out)
	}

	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode arguments: %w", err)
		}
		raw = data
	}
	resp := e.server.Dispatch(&rpc.Request{
		Tool:      tool,
		Args:      raw,
		Actor:     config.Actor(actorFlag),
		RequestID: uuid.NewString(),
	})
	if !resp.Success {
		if resp.Code != "" {
			return fmt.Errorf("%s: %s", resp.Code, resp.Error)
		}
		return errors.New(resp.Error)
	}
	e.persistSessionAfter(tool)

	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", tool, err)
		}
	}
	return nil
}

// persistSessionAfter records the current session in store metadata when
// a tool changed it, so the next direct-mode invocation resumes there.
func (e *engine) persistSessionAfter(tool string) {
	switch tool {
	case rpc.OpSessionStart, rpc.OpRestoreCheckpoint, rpc.OpBranchSession:
	default:
		return
	}
	current := e.server.Sessions().CurrentID()
	if current == "" {
		return
	}
	if err := e.store.SetMetadata(context.Background(), currentSessionKey, current); err != nil {
		debug.Logf("failed to persist current session: %v", err)
	}
}

// run opens the engine and executes one tool.
func run(tool string, args, out interface{}) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	return e.call(tool, args, out)
}

func closeEngine() {
	if eng == nil {
		return
	}
	if eng.server != nil {
		_ = eng.server.Stop()
	}
	if eng.store != nil {
		_ = eng.store.Close()
	}
	eng = nil
}
