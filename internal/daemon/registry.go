// Package daemon tracks running ck daemons across workspaces so the CLI
// can list and reach them. The registry is a single JSON file under the
// user's home directory, guarded by a file lock for cross-process safety.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RegistryEntry is one running daemon.
type RegistryEntry struct {
	WorkspacePath string    `json:"workspace_path"`
	SocketPath    string    `json:"socket_path"`
	DatabasePath  string    `json:"database_path"`
	PID           int       `json:"pid"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
}

// Registry manages the global daemon registry file.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex // in-process; cross-process uses the file lock
}

// NewRegistry opens the registry under ~/.ck.
func NewRegistry() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewRegistryAt(filepath.Join(home, ".ck"))
}

// NewRegistryAt opens a registry rooted at an explicit directory.
func NewRegistryAt(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &Registry{
		path:     filepath.Join(dir, "registry.json"),
		lockPath: filepath.Join(dir, "registry.lock"),
	}, nil
}

func (r *Registry) withFileLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fl := flock.New(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// readEntriesLocked tolerates a missing or corrupted registry file; a
// damaged registry heals on the next write.
func (r *Registry) readEntriesLocked() []RegistryEntry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (r *Registry) writeEntriesLocked(entries []RegistryEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close registry: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}

// Register adds or replaces the entry for a workspace.
func (r *Registry) Register(entry RegistryEntry) error {
	return r.withFileLock(func() error {
		entries := r.readEntriesLocked()
		kept := entries[:0]
		for _, e := range entries {
			if e.WorkspacePath != entry.WorkspacePath {
				kept = append(kept, e)
			}
		}
		kept = append(kept, entry)
		return r.writeEntriesLocked(kept)
	})
}

// Unregister removes a workspace's entry. Unknown workspaces are a no-op.
func (r *Registry) Unregister(workspacePath string) error {
	return r.withFileLock(func() error {
		entries := r.readEntriesLocked()
		kept := entries[:0]
		for _, e := range entries {
			if e.WorkspacePath != workspacePath {
				kept = append(kept, e)
			}
		}
		return r.writeEntriesLocked(kept)
	})
}

// List returns all registered entries, pruning ones whose process died.
// Pruning rewrites the registry so dead daemons disappear for good.
func (r *Registry) List() ([]RegistryEntry, error) {
	var alive []RegistryEntry
	err := r.withFileLock(func() error {
		entries := r.readEntriesLocked()
		for _, e := range entries {
			if processAlive(e.PID) {
				alive = append(alive, e)
			}
		}
		if len(alive) != len(entries) {
			return r.writeEntriesLocked(alive)
		}
		return nil
	})
	return alive, err
}
