package objectpool

import (
	"errors"
	"fmt"
)

// Config holds the settings of a pool that can come from a config file or the
// environment.
type Config struct {
	// Name identifies the pool in logs and metrics
	Name string `mapstructure:"name" json:"name"`
	// Capacity is the fixed number of slots
	Capacity int `mapstructure:"capacity" json:"capacity"`
	// LockPolicy is "shared" (readers in parallel) or "exclusive"
	LockPolicy string `mapstructure:"lock_policy" json:"lock_policy"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:       "default",
		Capacity:   1024,
		LockPolicy: SharedExclusive.String(),
	}
}

// Validate checks the configuration for values New would reject.
func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("capacity %d must not be negative", c.Capacity))
	}
	if _, err := ParseLockPolicy(c.LockPolicy); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("objectpool: invalid config: %w", err)
	}
	return nil
}

// Options converts the configuration to pool options.
func (c *Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	policy, _ := ParseLockPolicy(c.LockPolicy)
	return []Option{WithName(c.Name), WithLockPolicy(policy)}, nil
}

// NewFromConfig creates a pool from cfg. opts are applied after the options
// derived from cfg.
func NewFromConfig[T Recyclable](cfg *Config, factory func() T, opts ...Option) (*Pool[T], error) {
	base, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	return New(cfg.Capacity, factory, append(base, opts...)...), nil
}
