// Package config loads coalesce configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/cache"
	"github.com/rshade/coalesce/internal/logging"
)

// DefaultFileName is the configuration file looked up when no path is given.
const DefaultFileName = "coalesce.yaml"

// Configuration validation errors.
var (
	ErrInvalidCacheTTL        = errors.New("loader cache_ttl out of range")
	ErrInvalidCacheMaxEntries = errors.New("loader cache_max_entries must not be negative")
	ErrInvalidLogFormat       = errors.New("unknown log format")
)

// Config is the root configuration document.
type Config struct {
	Logging  LoggingConfig `yaml:"logging"`
	Batching batch.Config  `yaml:"batching"`
	Loader   LoaderConfig  `yaml:"loader"`
}

// LoggingConfig is the logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	Caller bool   `yaml:"caller,omitempty"`
}

// LoaderConfig is the dataloader section.
type LoaderConfig struct {
	CacheEnabled    bool          `yaml:"cache_enabled"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		Batching: batch.DefaultConfig(),
		Loader: LoaderConfig{
			CacheEnabled:    false,
			CacheTTL:        time.Duration(cache.DefaultTTLSeconds) * time.Second,
			CacheMaxEntries: cache.DefaultMaxEntries,
		},
	}
}

// Load returns the defaults overlaid with path and then the environment.
// A missing file at the default path is not an error; a missing explicit
// path is.
func Load(path string) (*Config, error) {
	cfg := New()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	if _, err := os.Stat(path); err == nil {
		if err = ShallowMergeYAML(cfg, path); err != nil {
			return nil, err
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Batching.Validate(); err != nil {
		return fmt.Errorf("batching: %w", err)
	}

	switch c.Logging.Format {
	case "", logging.FormatJSON, logging.FormatConsole, logging.FormatAuto:
	default:
		return fmt.Errorf("logging: %w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Loader.CacheEnabled {
		secs := int(c.Loader.CacheTTL / time.Second)
		if _, err := cache.NewTTLConfig(secs); err != nil {
			return fmt.Errorf("loader: %w: %w", ErrInvalidCacheTTL, err)
		}
	}
	if c.Loader.CacheMaxEntries < 0 {
		return fmt.Errorf("loader: %w: got %d", ErrInvalidCacheMaxEntries, c.Loader.CacheMaxEntries)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToLoggingConfig converts the logging section for the logging package.
// A configured file switches output to that file.
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = logging.OutputFile
	}

	return logging.Config{
		Level:  lc.Level,
		Format: lc.Format,
		Output: output,
		File:   lc.File,
		Caller: lc.Caller,
	}
}
