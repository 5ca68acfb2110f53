// Package channel derives and normalizes channel names. Channels are short
// topic tags on context items, typically derived from a git branch name.
package channel

import (
	"strings"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Reserved branch names that never become channels automatically. Items on
// the default branch land on the session's fallback channel instead.
var reservedBranches = map[string]bool{
	"main":   true,
	"master": true,
}

// Normalize converts an arbitrary string into a legal channel name:
// lowercase alphanumeric with hyphens, at most 20 characters. Every run of
// other characters collapses to a single hyphen. Returns "" when nothing
// usable remains.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	name := strings.Trim(b.String(), "-")
	if len(name) > types.MaxChannelLength {
		name = strings.Trim(name[:types.MaxChannelLength], "-")
	}
	return name
}

// FromBranch derives a channel from a git branch name. The reserved
// branches "main" and "master" yield "" so callers fall through to the next
// derivation source. Remote prefixes are ignored.
func FromBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.TrimPrefix(branch, "refs/heads/")
	branch = strings.TrimPrefix(branch, "origin/")
	if reservedBranches[strings.ToLower(branch)] {
		return ""
	}
	return Normalize(branch)
}

// Derive picks a session's default channel: an explicit argument wins, then
// the git branch (reserved names skipped), then the session name, then the
// "general" fallback.
func Derive(explicit, branch, sessionName string) string {
	if c := Normalize(explicit); c != "" {
		return c
	}
	if c := FromBranch(branch); c != "" {
		return c
	}
	if c := Normalize(sessionName); c != "" {
		return c
	}
	return types.DefaultChannel
}
