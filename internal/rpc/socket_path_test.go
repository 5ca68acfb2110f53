//go:build !windows

package rpc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShortSocketPathPrefersDataDir(t *testing.T) {
	got := ShortSocketPath("/home/dev/project")
	want := "/home/dev/project/.ck/" + SocketName
	if got != want {
		t.Errorf("ShortSocketPath = %q, want %q", got, want)
	}
}

func TestShortSocketPathFallsBackToTmp(t *testing.T) {
	long := "/home/dev/" + strings.Repeat("deeply-nested/", 12) + "project"
	got := ShortSocketPath(long)

	if !strings.HasPrefix(got, "/tmp/ck-") {
		t.Fatalf("long workspace should fall back to /tmp, got %q", got)
	}
	if len(got) > MaxUnixSocketPath {
		t.Errorf("fallback path still too long: %d bytes", len(got))
	}
	if again := ShortSocketPath(long); again != got {
		t.Errorf("hash not stable: %q vs %q", again, got)
	}
	if other := ShortSocketPath(long + "-2"); other == got {
		t.Error("different workspaces should hash to different directories")
	}
}

func TestEnsureAndCleanupHashedSocketDir(t *testing.T) {
	long := "/home/dev/" + strings.Repeat("deeply-nested/", 12) + "project"
	socketPath := ShortSocketPath(long)

	if _, err := EnsureSocketDir(socketPath); err != nil {
		t.Fatalf("EnsureSocketDir failed: %v", err)
	}
	dir := filepath.Dir(socketPath)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("socket dir missing: %v", err)
	}
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatalf("failed to create placeholder socket: %v", err)
	}

	if err := CleanupSocketDir(socketPath); err != nil {
		t.Fatalf("CleanupSocketDir failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("hashed dir still present after cleanup: %v", err)
	}
}

func TestCleanupLeavesDataDirAlone(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, SocketName)
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatalf("failed to create placeholder socket: %v", err)
	}

	if err := CleanupSocketDir(socketPath); err != nil {
		t.Fatalf("CleanupSocketDir failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir should survive cleanup: %v", err)
	}
}
