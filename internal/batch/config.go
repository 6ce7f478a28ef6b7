package batch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default batching configuration.
const (
	// DefaultMaxBatchSize is the default number of distinct keys per group.
	DefaultMaxBatchSize = 1000

	// DefaultMaxWait is the default accumulation window of a group.
	DefaultMaxWait = 5 * time.Millisecond

	// DefaultConcurrency is the default number of executor calls allowed in flight.
	DefaultConcurrency = 50

	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSizeLimit is the maximum allowed batch size.
	MaxBatchSizeLimit = 100000
)

// Config controls when groups are flushed and how many may execute at once.
type Config struct {
	// MaxBatchSize is the number of distinct keys that triggers a flush.
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxWait is the time after a group opens at which it is flushed.
	MaxWait time.Duration `yaml:"max_wait"`

	// Concurrency caps simultaneous executor calls. Zero means unlimited.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: DefaultMaxBatchSize,
		MaxWait:      DefaultMaxWait,
		Concurrency:  DefaultConcurrency,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.MaxBatchSize < MinBatchSize || c.MaxBatchSize > MaxBatchSizeLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.MaxBatchSize)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidWait, c.MaxWait)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.Concurrency)
	}
	return nil
}

// Option customizes a Batcher.
type Option func(*options)

type options struct {
	name      string
	logger    zerolog.Logger
	observers []Observer
}

func defaultOptions() options {
	return options{
		name:   "batcher",
		logger: zerolog.Nop(),
	}
}

// WithName sets the name used in logs.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver adds an Observer notified of submissions and flushes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}
