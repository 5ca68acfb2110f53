package validation

import (
	"fmt"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// ItemValidator validates a context item and returns an error if validation
// fails. Validators compose with Chain() so call sites can state their
// preconditions declaratively.
type ItemValidator func(key string, item *types.ContextItem) error

// Chain composes multiple validators into a single validator. Validators
// run in order; the first error stops the chain.
func Chain(validators ...ItemValidator) ItemValidator {
	return func(key string, item *types.ContextItem) error {
		for _, v := range validators {
			if err := v(key, item); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists validates that an item was found.
func Exists() ItemValidator {
	return func(key string, item *types.ContextItem) error {
		if item == nil {
			return fmt.Errorf("context item %q not found", key)
		}
		return nil
	}
}

// OwnedBy validates that the item belongs to the given session. Reads go
// through the privacy rule instead; this guards mutations, which only the
// owner may perform.
func OwnedBy(sessionID string) ItemValidator {
	return func(key string, item *types.ContextItem) error {
		if item == nil {
			return nil // let Exists() report the missing item
		}
		if item.SessionID != sessionID {
			return fmt.Errorf("context item %q belongs to another session", key)
		}
		return nil
	}
}

// WellFormed runs the item's structural checks plus the key character
// rules.
func WellFormed() ItemValidator {
	return func(key string, item *types.ContextItem) error {
		if item == nil {
			return nil
		}
		if err := ValidateKey(item.Key); err != nil {
			return err
		}
		return item.Validate()
	}
}
