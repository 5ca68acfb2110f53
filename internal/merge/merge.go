// Package merge resolves key conflicts when folding one session's items
// into another. The storage layer walks the source items and asks this
// package who wins; it never mutates anything itself.
package merge

import (
	"fmt"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Action says what the storage layer should do with one source item.
type Action int

const (
	// Insert copies the source item; no target item shares its key.
	Insert Action = iota
	// Overwrite replaces the target item's content with the source's.
	Overwrite
	// Skip leaves the target item untouched.
	Skip
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Overwrite:
		return "overwrite"
	case Skip:
		return "skip"
	}
	return "unknown"
}

// Decision pairs one source key with the action chosen for it.
type Decision struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// Resolve picks the action for a source item under the given strategy.
// target is nil when the target session has no item with that key, in
// which case every strategy inserts.
//
// keep_newest compares updated_at; a tie keeps the target (merging is a
// pull into the target, so the incumbent wins ties).
func Resolve(strategy types.MergeStrategy, source, target *types.ContextItem) (Action, error) {
	if !strategy.IsValid() {
		return Skip, fmt.Errorf("invalid merge strategy: %s", strategy)
	}
	if source == nil {
		return Skip, fmt.Errorf("merge source item is nil")
	}
	if target == nil {
		return Insert, nil
	}

	switch strategy {
	case types.MergeKeepCurrent:
		return Skip, nil
	case types.MergeKeepSource:
		return Overwrite, nil
	case types.MergeKeepNewest:
		if source.UpdatedAt.After(target.UpdatedAt) {
			return Overwrite, nil
		}
		return Skip, nil
	}
	return Skip, fmt.Errorf("invalid merge strategy: %s", strategy)
}

// Apply copies the source item's content onto the target row, preserving
// the target's identity and created_at. The privacy flag travels with the
// content.
func Apply(source, target *types.ContextItem) {
	target.Value = source.Value
	target.Category = source.Category
	target.Priority = source.Priority
	target.Channel = source.Channel
	target.Metadata = source.Metadata
	target.Size = source.Size
	target.IsPrivate = source.IsPrivate
}
