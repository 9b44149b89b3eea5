// Package config loads and saves the per-repository indexer settings kept
// in .pyindex/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	// Dir is the per-repository directory holding the config and index.
	Dir = ".pyindex"
	// FileName is the config file name inside Dir.
	FileName = "config.toml"
)

// Cache invalidation policies.
const (
	InvalidateNever   = "never"
	InvalidateReindex = "reindex"
)

// Config holds the indexer settings.
type Config struct {
	DBPath            string   `toml:"db_path" mapstructure:"db_path"`
	SystemRoots       []string `toml:"system_roots" mapstructure:"system_roots"`
	Parallel          bool     `toml:"parallel" mapstructure:"parallel"`
	Workers           int      `toml:"workers" mapstructure:"workers"`
	CacheInvalidation string   `toml:"cache_invalidation" mapstructure:"cache_invalidation"`
	PolicyScript      string   `toml:"policy_script" mapstructure:"policy_script"`
	LogLevel          string   `toml:"log_level" mapstructure:"log_level"`
	WatchDebounce     string   `toml:"watch_debounce" mapstructure:"watch_debounce"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		DBPath:            filepath.Join(Dir, "index.db"),
		Parallel:          true,
		Workers:           0,
		CacheInvalidation: InvalidateNever,
		LogLevel:          "warn",
		WatchDebounce:     "300ms",
	}
}

// Load reads .pyindex/config.toml under repoRoot. A missing file yields
// DefaultConfig. PYINDEX_* environment variables override file values.
func Load(repoRoot string) (*Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("system_roots", def.SystemRoots)
	v.SetDefault("parallel", def.Parallel)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("cache_invalidation", def.CacheInvalidation)
	v.SetDefault("policy_script", def.PolicyScript)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("watch_debounce", def.WatchDebounce)

	v.SetEnvPrefix("PYINDEX")
	v.AutomaticEnv()

	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(repoRoot, Dir))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to .pyindex/config.toml under repoRoot,
// creating the directory if needed.
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, FileName))
	if err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return f.Close()
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.CacheInvalidation {
	case InvalidateNever, InvalidateReindex:
	default:
		return &ConfigError{Field: "cache_invalidation", Message: fmt.Sprintf("unknown policy %q", c.CacheInvalidation)}
	}
	if c.Workers < 0 {
		return &ConfigError{Field: "workers", Message: "must not be negative"}
	}
	if _, err := c.Debounce(); err != nil {
		return &ConfigError{Field: "watch_debounce", Message: err.Error()}
	}
	return nil
}

// Debounce parses WatchDebounce. An empty value means no debounce.
func (c *Config) Debounce() (time.Duration, error) {
	if c.WatchDebounce == "" {
		return 0, nil
	}
	return time.ParseDuration(c.WatchDebounce)
}

// ResolvePath makes a config-relative path absolute against repoRoot.
func ResolvePath(repoRoot, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}

// ConfigError reports an invalid config value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
