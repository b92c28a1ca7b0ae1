// Package config provides configuration loading and structs for the FeedSpace server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Graph      GraphConfig      `yaml:"graph"`
	Watch      WatchConfig      `yaml:"watch"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds the persistence backend and paths.
type StorageConfig struct {
	Backend          string `yaml:"backend" validate:"oneof=sqlite bolt"`
	DatabasePath     string `yaml:"database_path" validate:"required"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// SimilarityConfig holds scoring settings.
type SimilarityConfig struct {
	// Threshold is the minimum similarity for a pair to become a link.
	Threshold       *float64 `yaml:"threshold" validate:"omitempty,min=0,max=1"`
	IncludeNewPairs bool     `yaml:"include_new_pairs"`
	Workers         int      `yaml:"workers" validate:"min=1,max=64"`
	// Retries is how many times a failed scoring task is retried.
	Retries *int `yaml:"retries" validate:"omitempty,min=0,max=10"`
}

// ThresholdOrDefault returns the threshold; defaults to DefaultThreshold when unset.
func (s *SimilarityConfig) ThresholdOrDefault() float64 {
	if s.Threshold != nil {
		return *s.Threshold
	}
	return DefaultThreshold
}

// RetriesOrDefault returns the retry count; defaults to DefaultRetries when unset.
func (s *SimilarityConfig) RetriesOrDefault() int {
	if s.Retries != nil {
		return *s.Retries
	}
	return DefaultRetries
}

// GraphConfig holds graph store policy and link styling.
type GraphConfig struct {
	UniqueIDs     bool   `yaml:"unique_ids"`
	StrictLinks   bool   `yaml:"strict_links"`
	LinkColorLow  string `yaml:"link_color_low" validate:"hexcolor"`
	LinkColorHigh string `yaml:"link_color_high" validate:"hexcolor"`
	NodeColor     string `yaml:"node_color" validate:"hexcolor"`
}

// WatchConfig holds drop-directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read or parsed, or a value is out of range.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.KeywordIndexPath != "" {
		cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and formats.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory and threshold changes.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
