// Package timeparse interprets the time expressions accepted by search
// bounds, compression cutoffs, and timeline ranges: ISO-8601 timestamps,
// bare dates, compact durations ("3d", "2h"), and natural-language phrases
// ("2 hours ago", "yesterday").
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

var compactRe = regexp.MustCompile(`^([+-]?\d+)([hdwmy])$`)

// ParseCompactDuration parses shorthand durations like "3d", "2h", "1w",
// "6m" (months), "1y". Months and years use calendar-free approximations
// (30 and 365 days).
func ParseCompactDuration(s string) (time.Duration, error) {
	m := compactRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration format %q (expected forms like 3d, 2h, 1w)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", m[1], err)
	}
	var unit time.Duration
	switch m[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	case "m":
		unit = 30 * 24 * time.Hour
	case "y":
		unit = 365 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// Parse resolves a time expression against the reference time now.
// Absolute forms are tried first (RFC3339, date-only, "2006-01-02
// 15:04:05"), then compact durations interpreted as "that long ago", then
// natural language.
func Parse(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if d, err := ParseCompactDuration(s); err == nil {
		return now.Add(-d), nil
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time expression %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression %q", s)
	}
	return r.Time, nil
}
