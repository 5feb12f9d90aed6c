// Package config loads and validates the indexer's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a codesearch index run.
// It mirrors the external interface table: every field here has a
// corresponding REPO_PATH/EMBED_*/VECTOR_*/... environment variable.
type Config struct {
	RepoPath string `yaml:"repo_path" json:"repo_path"`

	EmbedAPIKey   string `yaml:"-" json:"-"` // never serialized to disk
	EmbedModel    string `yaml:"embed_model" json:"embed_model"`
	EmbedDimension int   `yaml:"embed_dimension" json:"embed_dimension"`
	EmbedEndpoint string `yaml:"embed_endpoint" json:"embed_endpoint"`

	VectorURL        string `yaml:"vector_url" json:"vector_url"`
	VectorAPIKey     string `yaml:"-" json:"-"`
	VectorCollection string `yaml:"vector_collection" json:"vector_collection"`

	WatchMode   bool     `yaml:"watch_mode" json:"watch_mode"`
	BatchSize   int      `yaml:"batch_size" json:"batch_size"`
	DailyLimit  int      `yaml:"daily_limit" json:"daily_limit"`
	IgnorePaths []string `yaml:"ignore_paths" json:"ignore_paths"`

	CheckpointEvery int           `yaml:"checkpoint_every" json:"checkpoint_every"`
	DebounceWindow  time.Duration `yaml:"-" json:"-"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
}

var defaultIgnorePaths = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.memory/**",
}

// NewConfig returns a Config populated with defaults; Load layers project
// file, user file, and environment overrides on top of it.
func NewConfig() *Config {
	return &Config{
		EmbedModel:       "text-embedding-004",
		EmbedDimension:   768,
		VectorCollection: "codesearch",
		WatchMode:        false,
		BatchSize:        32,
		DailyLimit:       1000,
		IgnorePaths:      append([]string{}, defaultIgnorePaths...),
		CheckpointEvery:  50,
		DebounceWindow:   500 * time.Millisecond,
		LogLevel:         "info",
	}
}

// Load applies configuration in order of increasing precedence:
//  1. hardcoded defaults
//  2. user config (~/.config/codesearch/config.yaml)
//  3. project config (<dir>/.codesearch.yaml)
//  4. environment variables (highest precedence)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.RepoPath = dir

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".codesearch.yaml", ".codesearch.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetUserConfigPath follows the XDG base directory convention.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "codesearch", "config.yaml")
}

func (c *Config) mergeWith(other *Config) {
	if other.EmbedModel != "" {
		c.EmbedModel = other.EmbedModel
	}
	if other.EmbedDimension != 0 {
		c.EmbedDimension = other.EmbedDimension
	}
	if other.EmbedEndpoint != "" {
		c.EmbedEndpoint = other.EmbedEndpoint
	}
	if other.VectorURL != "" {
		c.VectorURL = other.VectorURL
	}
	if other.VectorCollection != "" {
		c.VectorCollection = other.VectorCollection
	}
	if other.BatchSize != 0 {
		c.BatchSize = other.BatchSize
	}
	if other.DailyLimit != 0 {
		c.DailyLimit = other.DailyLimit
	}
	if len(other.IgnorePaths) > 0 {
		c.IgnorePaths = append(c.IgnorePaths, other.IgnorePaths...)
	}
	if other.CheckpointEvery != 0 {
		c.CheckpointEvery = other.CheckpointEvery
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.WatchMode {
		c.WatchMode = other.WatchMode
	}
}

// applyEnvOverrides applies the external-interface environment variables;
// these take precedence over every file-based source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REPO_PATH"); v != "" {
		c.RepoPath = v
	}
	if v := os.Getenv("EMBED_API_KEY"); v != "" {
		c.EmbedAPIKey = v
	}
	if v := os.Getenv("VECTOR_URL"); v != "" {
		c.VectorURL = v
	}
	if v := os.Getenv("VECTOR_API_KEY"); v != "" {
		c.VectorAPIKey = v
	}
	if v := os.Getenv("VECTOR_COLLECTION"); v != "" {
		c.VectorCollection = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		c.EmbedModel = v
	}
	if v := os.Getenv("EMBED_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.EmbedDimension = d
		}
	}
	if v := os.Getenv("WATCH_MODE"); v != "" {
		c.WatchMode = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			c.BatchSize = b
		}
	}
	if v := os.Getenv("DAILY_LIMIT"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			c.DailyLimit = l
		}
	}
	if v := os.Getenv("IGNORE_PATHS"); v != "" {
		c.IgnorePaths = append(c.IgnorePaths, strings.Split(v, ",")...)
	}
}

// Validate rejects configuration that would surface as ConfigurationError
// at startup rather than failing confusingly mid-run.
func (c *Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path must be set")
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embed_dimension must be positive, got %d", c.EmbedDimension)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.DailyLimit <= 0 {
		return fmt.Errorf("daily_limit must be positive, got %d", c.DailyLimit)
	}
	if c.VectorCollection == "" {
		return fmt.Errorf("vector_collection must be set")
	}
	return nil
}

// WriteYAML persists the non-secret portion of the configuration.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// an existing .codesearch.yaml, falling back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, ".codesearch.yaml")) || fileExists(filepath.Join(dir, ".codesearch.yml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
