package validation

import (
	"strings"
	"testing"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string // substring; empty means valid
	}{
		{"simple", "task", ""},
		{"dotted", "auth.login.status", ""},
		{"path style", "src/main/handler", ""},
		{"namespaced", "repo:branch/feature-1", ""},
		{"underscores and digits", "item_42", ""},
		{"max length", strings.Repeat("k", types.MaxKeyLength), ""},
		{"empty", "", "empty"},
		{"only whitespace", "   ", "empty"},
		{"leading whitespace", " key", "whitespace"},
		{"trailing whitespace", "key ", "whitespace"},
		{"interior space", "my key", "spaces"},
		{"tab", "my\tkey", "tabs"},
		{"newline", "my\nkey", "control characters"},
		{"too long", strings.Repeat("k", types.MaxKeyLength+1), "too long"},
		{"pipe", "bad|key", "special characters"},
		{"semicolon", "bad;key", "special characters"},
		{"quote", `bad"key`, "special characters"},
		{"glob star", "bad*key", "special characters"},
		{"question mark", "bad?key", "special characters"},
		{"dollar", "bad$key", "special characters"},
		{"backtick", "bad`key", "special characters"},
		{"non-ascii", "clé", "non-ASCII"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateKey(%q) = %v, want nil", tt.key, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateKey(%q) = nil, want error mentioning %q", tt.key, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %q, want it to mention %q", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	if err := ValidateValue(""); err != nil {
		t.Errorf("empty value should be valid, got %v", err)
	}
	if err := ValidateValue(strings.Repeat("v", types.MaxValueBytes)); err != nil {
		t.Errorf("value at the limit should be valid, got %v", err)
	}
	if err := ValidateValue(strings.Repeat("v", types.MaxValueBytes+1)); err == nil {
		t.Error("value over the limit should be rejected")
	}
}

func TestValidateChannelName(t *testing.T) {
	tests := []struct {
		channel string
		wantErr bool
	}{
		{"general", false},
		{"feature-auth", false},
		{"bugfix-42", false},
		{"", true},
		{"Feature", true},
		{"has space", true},
		{"under_score", true},
		{strings.Repeat("c", types.MaxChannelLength+1), true},
	}

	for _, tt := range tests {
		err := ValidateChannelName(tt.channel)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateChannelName(%q) error = %v, wantErr %v", tt.channel, err, tt.wantErr)
		}
	}
}

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain", "auth token", "auth token"},
		{"strips quotes", `find "this" and 'that'`, "find this and that"},
		{"strips semicolons", "a;b", "ab"},
		{"strips comment markers", "a--b /*c*/", "ab c"},
		{"escapes percent", "100%", `100\%`},
		{"escapes underscore", "snake_case", `snake\_case`},
		{"strips backslash before escaping", `a\b`, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeQuery(tt.query); got != tt.want {
				t.Errorf("SanitizeQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}

	long := strings.Repeat("q", types.MaxQueryLength+500)
	if got := SanitizeQuery(long); len(got) != types.MaxQueryLength {
		t.Errorf("SanitizeQuery should truncate to %d, got %d", types.MaxQueryLength, len(got))
	}
}

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"src/main.go", false},
		{"docs/readme.md", false},
		{"", true},
		{"file\x00name", true},
		{"../escape", true},
		{"a/../b", true},
		{"/etc/passwd", true},
		{"/proc/self/environ", true},
		{"CON", true},
		{"logs/nul.txt", true},
		{`C:\Windows\system32\drivers`, true},
	}

	for _, tt := range tests {
		err := ValidateFilePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}
