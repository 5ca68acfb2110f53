package timeparse

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"2h", 2 * time.Hour, false},
		{"3d", 72 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"6m", 6 * 30 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"-2h", -2 * time.Hour, false},
		{"+1d", 24 * time.Hour, false},
		{"", 0, true},
		{"h", 0, true},
		{"2x", 0, true},
		{"2 h", 0, true},
		{"2.5h", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCompactDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := Parse("2025-01-02T15:04:05Z", now)
	if err != nil {
		t.Fatalf("Parse RFC3339: %v", err)
	}
	want := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Parse RFC3339 = %v, want %v", got, want)
	}

	got, err = Parse("2025-03-10", now)
	if err != nil {
		t.Fatalf("Parse date-only: %v", err)
	}
	want = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Parse date-only = %v, want %v", got, want)
	}
}

func TestParseCompactAgo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	got, err := Parse("2h", now)
	if err != nil {
		t.Fatalf("Parse(2h): %v", err)
	}
	if want := now.Add(-2 * time.Hour); !got.Equal(want) {
		t.Errorf("Parse(2h) = %v, want %v", got, want)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		check func(time.Time) bool
	}{
		{"2 hours ago", func(got time.Time) bool {
			diff := got.Sub(now.Add(-2 * time.Hour))
			return diff > -time.Minute && diff < time.Minute
		}},
		{"yesterday", func(got time.Time) bool {
			return got.Day() == 14 && got.Month() == time.June
		}},
		{"tomorrow", func(got time.Time) bool {
			return got.Day() == 16 && got.Month() == time.June
		}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input, now)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.input, err)
			continue
		}
		if !tt.check(got) {
			t.Errorf("Parse(%q) = %v, unexpected", tt.input, got)
		}
	}
}

func TestParseUnrecognized(t *testing.T) {
	now := time.Now()
	if _, err := Parse("", now); err == nil {
		t.Error("Parse(\"\") should fail")
	}
	if _, err := Parse("not a time at all xyz", now); err == nil {
		t.Error("Parse of gibberish should fail")
	}
}
