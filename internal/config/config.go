// Package config provides configuration loading for forestd.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BretMeraki/forestd/internal/logging"
)

// Config is the root forestd configuration.
type Config struct {
	// DataDir is the root directory for all durable state. One
	// subdirectory per project, plus the session database.
	DataDir string `koanf:"data_dir"`

	// SessionDB is the filename of the dialogue session database,
	// created under DataDir.
	SessionDB string `koanf:"session_db"`

	Cache   CacheConfig    `koanf:"cache"`
	Watcher WatcherConfig  `koanf:"watcher"`
	Logging logging.Config `koanf:"logging"`
}

// CacheConfig controls the file store's in-memory cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached documents.
	MaxEntries int `koanf:"max_entries"`
}

// WatcherConfig controls external-change detection on project files.
type WatcherConfig struct {
	// Enabled turns on fsnotify-based cache invalidation for files
	// modified outside the store (operator edits).
	Enabled bool `koanf:"enabled"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".forestd")
	}
	if cfg.SessionDB == "" {
		cfg.SessionDB = "dialogues.db"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 512
	}

	defaults := logging.NewDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Format
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = defaults.Fields
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data_dir must be an absolute path, got %q", c.DataDir)
	}
	if c.SessionDB == "" || c.SessionDB != filepath.Base(c.SessionDB) {
		return fmt.Errorf("session_db must be a bare filename, got %q", c.SessionDB)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1, got %d", c.Cache.MaxEntries)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
