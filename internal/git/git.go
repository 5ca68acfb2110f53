// Package git probes repository state. The engine consumes only the
// returned strings: branch names feed channel derivation, status text is
// captured opaquely into checkpoints.
package git

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// CurrentBranch returns the checked-out branch for dir, or "" when dir is
// not a repository or HEAD is detached. Probing is best-effort: the caller
// falls back to other channel derivation sources.
func CurrentBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		// detached HEAD has no branch name
		return ""
	}
	return branch
}

// Status returns `git status --porcelain` output for dir, or "" on any
// failure. Checkpoints store it as opaque text.
func Status(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\n")
}

// HeadPath returns the path of the repository's HEAD file so daemon mode
// can watch it for branch switches. Empty when dir is not a repository.
func HeadPath(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}
	return filepath.Join(gitDir, "HEAD")
}
