package executor

import (
	"fmt"
	"time"
)

// Config defaults.
const (
	DefaultMaxConcurrency = 5
	DefaultPerCallTimeout = 30 * time.Second
)

// Config controls how one batch is scheduled.
type Config struct {
	// MaxConcurrency bounds the SAFE_PARALLEL calls executing at once.
	MaxConcurrency int `json:"maxConcurrency" yaml:"maxConcurrency" validate:"gte=0"`

	// PerCallTimeout bounds every individual call. There is no batch timeout.
	PerCallTimeout time.Duration `json:"perCallTimeout" yaml:"perCallTimeout" validate:"gte=0"`

	// FallbackToSequential re-runs a parallel batch one call at a time when
	// every member failed because its backend was unavailable.
	FallbackToSequential bool `json:"fallbackToSequential" yaml:"fallbackToSequential"`

	// Enabled turns parallel execution on. When false every call runs in
	// request order.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:       DefaultMaxConcurrency,
		PerCallTimeout:       DefaultPerCallTimeout,
		FallbackToSequential: true,
		Enabled:              true,
	}
}

// Validate reports configuration values that can never work.
func (c Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must not be negative")
	}
	if c.PerCallTimeout < 0 {
		return fmt.Errorf("per-call timeout must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = DefaultPerCallTimeout
	}
	return c
}
