package validation

import (
	"strings"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

var queryStripper = strings.NewReplacer(
	`'`, "",
	`"`, "",
	";", "",
	`\`, "",
)

// SanitizeQuery prepares free-text search input for use inside a LIKE
// pattern. Quotes, semicolons, backslashes, and SQL comment markers are
// stripped; the LIKE wildcards are escaped with a backslash (queries run
// with ESCAPE '\'); the result is truncated to the query length cap.
func SanitizeQuery(q string) string {
	q = queryStripper.Replace(q)
	q = strings.ReplaceAll(q, "--", "")
	q = strings.ReplaceAll(q, "/*", "")
	q = strings.ReplaceAll(q, "*/", "")
	q = strings.ReplaceAll(q, "%", `\%`)
	q = strings.ReplaceAll(q, "_", `\_`)
	if len(q) > types.MaxQueryLength {
		q = q[:types.MaxQueryLength]
	}
	return q
}

// EscapeLike escapes the LIKE wildcards in a literal fragment without the
// rest of the sanitizer. Used when the fragment is already validated (key
// prefixes, channel names).
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
