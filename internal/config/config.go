// Package config loads engram process configuration.
// Configuration is constructed once at startup and passed by reference into
// the store, index, and validation components; there is no ambient global
// and no hot-reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all engram configuration.
type Config struct {
	// Workspace root. Derived, not read from file.
	Workspace string `yaml:"-"`

	// Memory/storage settings
	Memory MemoryConfig `yaml:"memory"`

	// NLQ settings
	Query QueryConfig `yaml:"query"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the persistent entity store.
type MemoryConfig struct {
	// DatabasePath is the sqlite file, relative to the workspace when not
	// absolute. Default: .engram/engram.db
	DatabasePath string `yaml:"database_path"`
}

// QueryConfig configures the NLQ engine.
type QueryConfig struct {
	// MinResults triggers the prefix/fuzzy fallback scan when an exact
	// token lookup yields fewer matches.
	MinResults int `yaml:"min_results"`
	// MaxResults caps the result sequence returned to callers.
	MaxResults int `yaml:"max_results"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Default returns the built-in configuration for a workspace.
func Default(workspace string) *Config {
	return &Config{
		Workspace: workspace,
		Memory: MemoryConfig{
			DatabasePath: filepath.Join(".engram", "engram.db"),
		},
		Query: QueryConfig{
			MinResults: 5,
			MaxResults: 50,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads .engram/config.yaml from the workspace, falling back to
// defaults when the file does not exist, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".engram", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg.Workspace = workspace

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ENGRAM_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if v := os.Getenv("ENGRAM_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if lvl := os.Getenv("ENGRAM_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	if c.Memory.DatabasePath == "" {
		c.Memory.DatabasePath = filepath.Join(".engram", "engram.db")
	}
	if c.Query.MinResults <= 0 {
		c.Query.MinResults = 5
	}
	if c.Query.MaxResults <= 0 {
		c.Query.MaxResults = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// DatabasePath resolves the sqlite path against the workspace.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Memory.DatabasePath) || c.Memory.DatabasePath == ":memory:" {
		return c.Memory.DatabasePath
	}
	return filepath.Join(c.Workspace, c.Memory.DatabasePath)
}
