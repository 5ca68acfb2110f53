package validation

import (
	"fmt"
	"strings"
)

// Windows device names that must never be used as path components.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var systemRoots = []string{
	"/etc/", "/sys/", "/proc/", "/dev/", "/boot/",
	`c:\windows\`, `c:\program files\`,
}

// ValidateFilePath rejects paths that could escape the tracked working
// directory or touch system locations: null bytes, reserved device names,
// `..` segments, and known system roots.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("file path cannot contain null bytes")
	}

	lower := strings.ToLower(path)
	for _, root := range systemRoots {
		if strings.HasPrefix(lower, root) || lower+"/" == root {
			return fmt.Errorf("file path cannot be under system root %q", strings.TrimSuffix(root, "/"))
		}
	}

	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return fmt.Errorf("file path cannot contain '..' segments")
		}
		base := strings.ToLower(seg)
		if dot := strings.IndexByte(base, '.'); dot >= 0 {
			base = base[:dot]
		}
		if reservedNames[base] {
			return fmt.Errorf("file path cannot contain reserved name %q", seg)
		}
	}
	return nil
}
