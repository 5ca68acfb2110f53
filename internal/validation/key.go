package validation

import (
	"fmt"
	"strings"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

// ValidateKey enforces the key rules: non-empty, at most 255 characters,
// ASCII letters/digits plus `_ - . / :` only. Error messages name the
// specific offense so callers can surface them verbatim.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if key != strings.TrimSpace(key) {
		return fmt.Errorf("key cannot have leading or trailing whitespace")
	}
	if len(key) > types.MaxKeyLength {
		return fmt.Errorf("key is too long (%d characters, max %d)", len(key), types.MaxKeyLength)
	}
	for _, r := range key {
		switch {
		case r == ' ':
			return fmt.Errorf("key cannot contain spaces")
		case r == '\t':
			return fmt.Errorf("key cannot contain tabs")
		case r < 0x20 || r == 0x7f:
			return fmt.Errorf("key cannot contain control characters")
		case r > 0x7f:
			return fmt.Errorf("key cannot contain non-ASCII characters")
		case isKeyRune(r):
			// allowed
		default:
			return fmt.Errorf("key cannot contain special characters (found %q)", r)
		}
	}
	return nil
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.' || r == '/' || r == ':':
		return true
	}
	return false
}

// ValidateValue enforces the 1 MiB value ceiling. Empty values are legal.
func ValidateValue(value string) error {
	if len(value) > types.MaxValueBytes {
		return fmt.Errorf("value is too large (%d bytes, max %d)", len(value), types.MaxValueBytes)
	}
	return nil
}

// ValidateChannelName checks an explicitly supplied channel name. Derived
// names go through the channel package instead, which normalizes rather
// than rejects.
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if len(name) > types.MaxChannelLength {
		return fmt.Errorf("channel name is too long (%d characters, max %d)", len(name), types.MaxChannelLength)
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return fmt.Errorf("channel name must be lowercase alphanumeric with hyphens (found %q)", r)
	}
	return nil
}
