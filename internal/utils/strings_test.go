package utils

import "testing"

func TestComputeDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"decision", "decisoin", 2},
		{"Key", "key", 0},
		{"auth.token", "auth.token", 0},
	}
	for _, tt := range tests {
		if got := ComputeDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("ComputeDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		source, target string
		want           bool
	}{
		{"", "anything", true},
		{"atk", "auth.token", true},
		{"ATK", "auth.token", true},
		{"tka", "auth.token", false},
		{"auth.token", "atk", false},
	}
	for _, tt := range tests {
		if got := FuzzyMatch(tt.source, tt.target); got != tt.want {
			t.Errorf("FuzzyMatch(%q, %q) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}
}
