package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rshade/coalesce/internal/cache"
)

// Environment variables that override the file configuration.
const (
	EnvLogLevel     = "COALESCE_LOG_LEVEL"
	EnvLogFormat    = "COALESCE_LOG_FORMAT"
	EnvMaxBatchSize = "COALESCE_MAX_BATCH_SIZE"
	EnvMaxWait      = "COALESCE_MAX_WAIT"
	EnvConcurrency  = "COALESCE_CONCURRENCY"
)

// ApplyEnv overrides fields from the environment. Unset variables leave
// fields alone; malformed ones are errors.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}

	if err := envInt(EnvMaxBatchSize, &c.Batching.MaxBatchSize); err != nil {
		return err
	}
	if err := envInt(EnvConcurrency, &c.Batching.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv(EnvMaxWait); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvMaxWait, err)
		}
		c.Batching.MaxWait = d
	}

	enabled, enabledSet, err := cache.GetCacheEnabledFromEnv()
	if err != nil {
		return err
	}
	if enabledSet {
		c.Loader.CacheEnabled = enabled
	}

	ttl, ttlSet, err := cache.GetTTLFromEnv()
	if err != nil {
		return err
	}
	if ttlSet {
		c.Loader.CacheTTL = time.Duration(ttl) * time.Second
	}

	maxEntries, maxSet, err := cache.GetMaxEntriesFromEnv()
	if err != nil {
		return err
	}
	if maxSet {
		c.Loader.CacheMaxEntries = maxEntries
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = n
	return nil
}
