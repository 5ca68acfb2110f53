//go:build !windows

package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// MaxUnixSocketPath is the longest socket path accepted across platforms.
// macOS caps at 104 bytes including the terminator, Linux at 108.
const MaxUnixSocketPath = 103

// SocketName is the daemon socket file stored under the data directory.
const SocketName = "ck.sock"

// Sockets always fall back to /tmp rather than $TMPDIR: macOS puts
// TMPDIR under /var/folders/... which alone nearly exhausts the limit.
const tmpDir = "/tmp"

// ShortSocketPath returns the socket path for a workspace. The natural
// location is .ck/ck.sock next to the database; workspaces whose path
// would exceed the unix socket limit get a hashed /tmp/ck-XXXX directory
// instead. The hash is stable per canonical workspace path.
func ShortSocketPath(workspacePath string) string {
	naturalPath := filepath.Join(workspacePath, ".ck", SocketName)
	if len(naturalPath) <= MaxUnixSocketPath {
		return naturalPath
	}
	return filepath.Join(tmpDir, "ck-"+workspaceHash(workspacePath), SocketName)
}

func workspaceHash(workspacePath string) string {
	canonical, err := filepath.EvalSymlinks(workspacePath)
	if err != nil {
		canonical = filepath.Clean(workspacePath)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:4])
}

// EnsureSocketDir creates the hashed /tmp socket directory when needed.
// Data-directory sockets assume the directory already exists.
func EnsureSocketDir(socketPath string) (string, error) {
	dir := filepath.Dir(socketPath)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "ck-")) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
	}
	return socketPath, nil
}

// CleanupSocketDir removes the socket, and the directory too when it is
// one of the hashed /tmp directories this package created.
func CleanupSocketDir(socketPath string) error {
	dir := filepath.Dir(socketPath)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "ck-")) {
		_ = os.Remove(socketPath)
		return os.Remove(dir)
	}
	return os.Remove(socketPath)
}
