package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository types accepted in configuration.
const (
	RepositoryTypeMaven   = "maven"
	RepositoryTypeNPM     = "npm"
	RepositoryTypeGeneric = "generic"
)

// validRepositoryTypes lists the accepted values for RepositoryConfig.Type.
var validRepositoryTypes = map[string]bool{
	RepositoryTypeMaven:   true,
	RepositoryTypeNPM:     true,
	RepositoryTypeGeneric: true,
}

// Config represents the complete AmanRepo configuration.
type Config struct {
	Version      int                `yaml:"version" json:"version"`
	Repositories []RepositoryConfig `yaml:"repositories" json:"repositories"`
	Merge        MergeConfig        `yaml:"merge" json:"merge"`
	Reaper       ReaperConfig       `yaml:"reaper" json:"reaper"`
	Journal      JournalConfig      `yaml:"journal" json:"journal"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// RepositoryConfig describes one managed repository and where its search index lives.
type RepositoryConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	IndexDir string `yaml:"index_dir" json:"index_dir"`
}

// MergeConfig configures group index merging.
type MergeConfig struct {
	// BaseDir is the root under which merged group indexes are created.
	// Temporary index directories outside this root are never deleted.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// IndexPath is the merged index location relative to its directory.
	// Default: ".indexer"
	IndexPath string `yaml:"index_path" json:"index_path"`

	// DefaultTTL is the lifetime given to temporary merges that do not set one.
	// Default: "30m"
	DefaultTTL string `yaml:"default_ttl" json:"default_ttl"`

	// BatchSize is the number of documents copied per batch into a merged index.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// ResolveWorkers bounds concurrent member index lookups (0 = NumCPU).
	ResolveWorkers int `yaml:"resolve_workers" json:"resolve_workers"`

	// Pack produces a distributable artifact for permanent merges by default.
	Pack bool `yaml:"pack" json:"pack"`
}

// ReaperConfig configures the TTL-based temporary index reaper.
type ReaperConfig struct {
	// Enabled runs the reaper in serve mode (default: true).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval is the polling interval (default: "1m").
	Interval string `yaml:"interval" json:"interval"`
	// CleanupsPerSecond paces dispatched cleanups (default: 10).
	CleanupsPerSecond float64 `yaml:"cleanups_per_second" json:"cleanups_per_second"`
}

// JournalConfig configures the durable record of temporary indexes.
type JournalConfig struct {
	// Path is the SQLite journal file. Empty disables the journal.
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Version:      1,
		Repositories: []RepositoryConfig{},
		Merge: MergeConfig{
			BaseDir:        filepath.Join(dataDir, "merged"),
			IndexPath:      ".indexer",
			DefaultTTL:     "30m",
			BatchSize:      500,
			ResolveWorkers: runtime.NumCPU(),
			Pack:           false,
		},
		Reaper: ReaperConfig{
			Enabled:           true,
			Interval:          "1m",
			CleanupsPerSecond: 10,
		},
		Journal: JournalConfig{
			Path: filepath.Join(dataDir, "temporary-indexes.db"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns the default data directory (~/.amanrepo).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrepo")
	}
	return filepath.Join(home, ".amanrepo")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrepo/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrepo/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrepo", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrepo", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrepo", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrepo/config.yaml)
//  3. Project config (.amanrepo.yaml in dir)
//  4. Environment variables (AMANREPO_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
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

// loadFromFile attempts to load configuration from .amanrepo.yaml or .amanrepo.yml.
func (c *Config) loadFromFile(dir string) error {
	// .yaml takes precedence
	for _, name := range []string{".amanrepo.yaml", ".amanrepo.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Repositories replace rather than append: a project lists its own set.
	if len(other.Repositories) > 0 {
		c.Repositories = other.Repositories
	}

	if other.Merge.BaseDir != "" {
		c.Merge.BaseDir = other.Merge.BaseDir
	}
	if other.Merge.IndexPath != "" {
		c.Merge.IndexPath = other.Merge.IndexPath
	}
	if other.Merge.DefaultTTL != "" {
		c.Merge.DefaultTTL = other.Merge.DefaultTTL
	}
	if other.Merge.BatchSize != 0 {
		c.Merge.BatchSize = other.Merge.BatchSize
	}
	if other.Merge.ResolveWorkers != 0 {
		c.Merge.ResolveWorkers = other.Merge.ResolveWorkers
	}
	if other.Merge.Pack {
		c.Merge.Pack = true
	}

	// Enabled is boolean - only trust it when another reaper field was set
	if other.Reaper.Interval != "" || other.Reaper.CleanupsPerSecond != 0 {
		c.Reaper.Enabled = other.Reaper.Enabled
	}
	if other.Reaper.Interval != "" {
		c.Reaper.Interval = other.Reaper.Interval
	}
	if other.Reaper.CleanupsPerSecond != 0 {
		c.Reaper.CleanupsPerSecond = other.Reaper.CleanupsPerSecond
	}

	if other.Journal.Path != "" {
		c.Journal.Path = other.Journal.Path
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies AMANREPO_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANREPO_BASE_DIR"); v != "" {
		c.Merge.BaseDir = v
	}
	if v := os.Getenv("AMANREPO_DEFAULT_TTL"); v != "" {
		c.Merge.DefaultTTL = v
	}
	if v := os.Getenv("AMANREPO_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Merge.BatchSize = n
		}
	}
	if v := os.Getenv("AMANREPO_REAPER_ENABLED"); v != "" {
		c.Reaper.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("AMANREPO_REAPER_INTERVAL"); v != "" {
		c.Reaper.Interval = v
	}
	// AMANREPO_JOURNAL_PATH may be set to "off" to disable the journal
	if v := os.Getenv("AMANREPO_JOURNAL_PATH"); v != "" {
		if strings.EqualFold(v, "off") {
			c.Journal.Path = ""
		} else {
			c.Journal.Path = v
		}
	}
	if v := os.Getenv("AMANREPO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Repositories))
	for i, repo := range c.Repositories {
		if strings.TrimSpace(repo.ID) == "" {
			return fmt.Errorf("repositories[%d].id must not be empty", i)
		}
		if seen[repo.ID] {
			return fmt.Errorf("duplicate repository id %q", repo.ID)
		}
		seen[repo.ID] = true
		if !validRepositoryTypes[strings.ToLower(repo.Type)] {
			return fmt.Errorf("repository %q: type must be 'maven', 'npm' or 'generic', got %q", repo.ID, repo.Type)
		}
		if strings.ToLower(repo.Type) == RepositoryTypeMaven && repo.IndexDir == "" {
			return fmt.Errorf("repository %q: index_dir is required for maven repositories", repo.ID)
		}
	}

	if c.Merge.BaseDir == "" {
		return fmt.Errorf("merge.base_dir must not be empty")
	}
	if c.Merge.IndexPath == "" || filepath.IsAbs(c.Merge.IndexPath) ||
		strings.HasPrefix(filepath.Clean(c.Merge.IndexPath), "..") {
		return fmt.Errorf("merge.index_path must be a relative path inside the merged directory, got %q", c.Merge.IndexPath)
	}
	if _, err := positiveDuration("merge.default_ttl", c.Merge.DefaultTTL); err != nil {
		return err
	}
	if c.Merge.BatchSize <= 0 {
		return fmt.Errorf("merge.batch_size must be positive, got %d", c.Merge.BatchSize)
	}
	if c.Merge.ResolveWorkers < 0 {
		return fmt.Errorf("merge.resolve_workers must be non-negative, got %d", c.Merge.ResolveWorkers)
	}

	if _, err := positiveDuration("reaper.interval", c.Reaper.Interval); err != nil {
		return err
	}
	if c.Reaper.CleanupsPerSecond <= 0 {
		return fmt.Errorf("reaper.cleanups_per_second must be positive, got %f", c.Reaper.CleanupsPerSecond)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// TTL returns the parsed merge.default_ttl.
func (m MergeConfig) TTL() time.Duration {
	d, err := time.ParseDuration(m.DefaultTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// PollInterval returns the parsed reaper.interval.
func (r ReaperConfig) PollInterval() time.Duration {
	d, err := time.ParseDuration(r.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Repository returns the configured repository with the given id.
func (c *Config) Repository(id string) (RepositoryConfig, bool) {
	for _, repo := range c.Repositories {
		if repo.ID == id {
			return repo, true
		}
	}
	return RepositoryConfig{}, false
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .amanrepo.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) ||
			fileExists(filepath.Join(currentDir, ".amanrepo.yaml")) ||
			fileExists(filepath.Join(currentDir, ".amanrepo.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func positiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like \"30m\", got %q", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
