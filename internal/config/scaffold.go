package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type fileSettings struct {
	DB             string `yaml:"db,omitempty"`
	JSON           bool   `yaml:"json"`
	Actor          string `yaml:"actor,omitempty"`
	RequestTimeout string `yaml:"request-timeout"`
	Storage        struct {
		MaxBytes int64 `yaml:"max-bytes"`
	} `yaml:"storage"`
	Watch struct {
		IdleTTL string `yaml:"idle-ttl"`
		Buffer  int    `yaml:"buffer"`
	} `yaml:"watch"`
	Log struct {
		MaxSizeMB  int `yaml:"max-size-mb"`
		MaxBackups int `yaml:"max-backups"`
		MaxAgeDays int `yaml:"max-age-days"`
	} `yaml:"log"`
	Compress struct {
		Narrative   bool `yaml:"narrative"`
		Concurrency int  `yaml:"concurrency"`
	} `yaml:"compress"`
	Daemon struct {
		IdleTimeout string `yaml:"idle-timeout"`
	} `yaml:"daemon"`
}

// WriteDefault scaffolds dir/.ck/config.yaml with the default settings so
// users have a file to edit. Refuses to overwrite an existing file.
func WriteDefault(dir string) (string, error) {
	ckDir := filepath.Join(dir, DataDirName)
	if err := os.MkdirAll(ckDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", ckDir, err)
	}
	path := filepath.Join(ckDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	var s fileSettings
	s.RequestTimeout = "30s"
	s.Storage.MaxBytes = 100 * 1024 * 1024
	s.Watch.IdleTTL = "30m"
	s.Watch.Buffer = 1024
	s.Log.MaxSizeMB = 10
	s.Log.MaxBackups = 3
	s.Log.MaxAgeDays = 28
	s.Compress.Narrative = false
	s.Compress.Concurrency = 4
	s.Daemon.IdleTimeout = "2h"

	data, err := yaml.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
