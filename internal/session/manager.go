// Package session manages session lifecycle on top of the storage layer:
// creation with channel derivation, lookup, and the process-wide notion of
// the current session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/channel"
	"github.com/untoldecay/ContextKeeper/internal/git"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// StartOptions carries the caller-provided fields of session_start. Every
// field is optional.
type StartOptions struct {
	Name        string
	Description string
	Channel     string
	WorkingDir  string
	Parent      string // id or name of an existing session recorded as lineage
	Branch      string // pins the branch instead of probing WorkingDir
	Continue    string // session id or name to resume instead of creating
}

// Manager creates and tracks sessions. The current session is per-manager,
// not persisted; each serving process decides its own.
type Manager struct {
	store storage.Store

	mu      sync.RWMutex
	current *types.Session
}

func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Start creates a new session (or resumes one via opts.Continue) and makes
// it current. The default channel derives from, in order: the explicit
// channel, the git branch of the working directory, the session name, and
// finally "general".
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*types.Session, error) {
	if opts.Continue != "" {
		session, err := m.Resume(ctx, opts.Continue)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "Session " + time.Now().UTC().Format("2006-01-02 15:04")
	}

	branch := strings.TrimSpace(opts.Branch)
	if branch == "" && opts.WorkingDir != "" && git.IsRepo(opts.WorkingDir) {
		branch = git.CurrentBranch(opts.WorkingDir)
	}

	parentID := ""
	if opts.Parent != "" {
		parent, err := m.resolve(ctx, opts.Parent)
		if err != nil {
			return nil, fmt.Errorf("parent session: %w", err)
		}
		parentID = parent.ID
	}

	session := &types.Session{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    opts.Description,
		Branch:         branch,
		WorkingDir:     opts.WorkingDir,
		ParentID:       parentID,
		DefaultChannel: channel.Derive(opts.Channel, branch, name),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()
	return session, nil
}

// Resume looks up an existing session by id first, then by name, and makes
// it current.
func (m *Manager) Resume(ctx context.Context, ref string) (*types.Session, error) {
	session, err := m.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()
	return session, nil
}

// resolve looks up a session by id first, then by name.
func (m *Manager) resolve(ctx context.Context, ref string) (*types.Session, error) {
	session, err := m.store.GetSession(ctx, ref)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		session, err = m.store.GetSessionByName(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("no session with id or name %q: %w", ref, storage.ErrNotFound)
		}
	}
	return session, nil
}

// Current returns the active session, or nil when none was started.
func (m *Manager) Current() *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentID returns the active session's id, or "".
func (m *Manager) CurrentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// RequireCurrent returns the active session or a FailedPrecondition error
// telling the caller to run session_start first.
func (m *Manager) RequireCurrent() (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, fmt.Errorf("no active session, call session_start first: %w", storage.ErrFailedPrecondition)
	}
	return m.current, nil
}

// SetCurrent makes an already-loaded session current.
func (m *Manager) SetCurrent(session *types.Session) {
	m.mu.Lock()
	m.current = session
	m.mu.Unlock()
}

// List returns sessions newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*types.Session, error) {
	return m.store.ListSessions(ctx, limit)
}

// Get fetches a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.Session, error) {
	return m.store.GetSession(ctx, id)
}

// Update applies field updates; a rename of the current session refreshes
// the cached copy.
func (m *Manager) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	if err := m.store.UpdateSession(ctx, id, updates); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID == id {
		refreshed, err := m.store.GetSession(ctx, id)
		if err == nil {
			m.current = refreshed
		}
	}
	return nil
}

// Stats aggregates a session's footprint.
func (m *Manager) Stats(ctx context.Context, id string) (*types.SessionStats, error) {
	return m.store.SessionStats(ctx, id)
}
