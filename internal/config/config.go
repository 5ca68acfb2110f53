package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/untoldecay/ContextKeeper/internal/debug"
)

// DataDirName is the per-project directory holding the database, socket,
// lock, and config file.
const DataDirName = ".ck"

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup, before any getter.
//
// Precedence for the config file: project .ck/config.yaml (walking up from
// the working directory) > ~/.config/ck/config.yaml > ~/.ck/config.yaml.
// Environment variables with the CK_ prefix override file values.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// Walk up from CWD so subdirectory invocations find the project config.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, DataDirName, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "ck", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, DataDirName, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// CK_REQUEST_TIMEOUT maps to "request-timeout", CK_WATCH_IDLE_TTL to
	// "watch.idle-ttl", and so on.
	v.SetEnvPrefix("CK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "")
	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("no-daemon", false)
	v.SetDefault("request-timeout", "30s")

	v.SetDefault("storage.max-bytes", int64(100*1024*1024))

	v.SetDefault("watch.idle-ttl", "30m")
	v.SetDefault("watch.buffer", 1024)

	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	v.SetDefault("compress.narrative", false)
	v.SetDefault("compress.concurrency", 4)
	v.SetDefault("compress.api-key", "")

	v.SetDefault("daemon.idle-timeout", "2h")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debug.Logf("no config.yaml found; using defaults and environment variables")
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetInt64 retrieves a 64-bit integer configuration value.
func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value for this process.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// FindDataDir locates the nearest .ck directory walking up from the
// working directory. Returns "" when none exists.
func FindDataDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

// DatabasePath resolves the database file path: the db config key wins,
// then the nearest project .ck directory, then ~/.ck/context.db.
func DatabasePath() string {
	if p := GetString("db"); p != "" {
		return p
	}
	if dir := FindDataDir(); dir != "" {
		return filepath.Join(dir, "context.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DataDirName, "context.db")
	}
	return filepath.Join(home, DataDirName, "context.db")
}

// Actor resolves who is performing operations, for audit trails.
// Priority: explicit flag > CK_ACTOR / config actor > git user.name >
// hostname.
func Actor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}
