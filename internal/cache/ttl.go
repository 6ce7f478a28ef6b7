package cache

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// TTL configuration constants and defaults.
const (
	// DefaultTTLSeconds is the default cache TTL (1 minute).
	DefaultTTLSeconds = 60

	// MinTTLSeconds is the minimum allowed TTL (1 second).
	MinTTLSeconds = 1

	// MaxTTLSeconds is the maximum allowed TTL (7 days).
	MaxTTLSeconds = 604800

	// DefaultMaxEntries is the default size bound of a store.
	DefaultMaxEntries = 10000

	// minutesPerHour is used for duration formatting calculations.
	minutesPerHour = 60

	// secondsPerMinute is used for duration formatting calculations.
	secondsPerMinute = 60

	// hoursPerDay is used for duration formatting calculations.
	hoursPerDay = 24

	// EnvTTLSeconds is the environment variable for overriding TTL.
	EnvTTLSeconds = "COALESCE_CACHE_TTL_SECONDS"

	// EnvCacheEnabled is the environment variable for enabling/disabling cache.
	EnvCacheEnabled = "COALESCE_CACHE_ENABLED"

	// EnvCacheMaxEntries is the environment variable for the size bound.
	EnvCacheMaxEntries = "COALESCE_CACHE_MAX_ENTRIES"
)

// TTL validation errors.
var (
	ErrInvalidTTL        = fmt.Errorf("TTL must be between %d and %d seconds", MinTTLSeconds, MaxTTLSeconds)
	ErrInvalidMaxEntries = errors.New("max entries must not be negative")
)

// TTLConfig holds cache TTL configuration with validation.
type TTLConfig struct {
	// Seconds is the TTL duration in seconds.
	Seconds int

	// Duration is the TTL as a time.Duration.
	Duration time.Duration
}

// NewTTLConfig creates a TTL configuration with validation.
// Returns an error if the TTL is outside the valid range.
func NewTTLConfig(seconds int) (*TTLConfig, error) {
	if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
	}

	return &TTLConfig{
		Seconds:  seconds,
		Duration: time.Duration(seconds) * time.Second,
	}, nil
}

// GetTTLFromEnv reads the TTL from the environment. The value may be integer
// seconds or a duration string (see ParseTTL). The second result is false
// when the variable is unset.
func GetTTLFromEnv() (int, bool, error) {
	envVal := os.Getenv(EnvTTLSeconds)
	if envVal == "" {
		return DefaultTTLSeconds, false, nil
	}

	ttl, err := ParseTTL(envVal)
	if err != nil {
		return 0, true, fmt.Errorf("parsing %s: %w", EnvTTLSeconds, err)
	}
	return ttl, true, nil
}

// GetCacheEnabledFromEnv reads the cache enabled flag from the environment.
// The second result is false when the variable is unset.
func GetCacheEnabledFromEnv() (bool, bool, error) {
	envVal := os.Getenv(EnvCacheEnabled)
	if envVal == "" {
		return false, false, nil
	}

	enabled, err := strconv.ParseBool(envVal)
	if err != nil {
		return false, true, fmt.Errorf("parsing %s: %w", EnvCacheEnabled, err)
	}
	return enabled, true, nil
}

// GetMaxEntriesFromEnv reads the size bound from the environment. Zero means
// unbounded; negative values are errors.
func GetMaxEntriesFromEnv() (int, bool, error) {
	envVal := os.Getenv(EnvCacheMaxEntries)
	if envVal == "" {
		return DefaultMaxEntries, false, nil
	}

	maxEntries, err := strconv.Atoi(envVal)
	if err != nil {
		return 0, true, fmt.Errorf("parsing %s: %w", EnvCacheMaxEntries, err)
	}
	if maxEntries < 0 {
		return 0, true, fmt.Errorf("%w: %s=%d", ErrInvalidMaxEntries, EnvCacheMaxEntries, maxEntries)
	}
	return maxEntries, true, nil
}

// FormatDuration formats a duration in a human-readable way.
// Examples: "45s", "1m30s", "2h", "3d2h".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % secondsPerMinute
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

// ParseTTL parses a TTL string in various formats:
// - Integer seconds: "90".
// - Duration string: "1m30s", "1h".
func ParseTTL(s string) (int, error) {
	if seconds, err := strconv.Atoi(s); err == nil {
		if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
		}
		return seconds, nil
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL format: %w", err)
	}

	seconds := int(duration.Seconds())
	if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
	}

	return seconds, nil
}
