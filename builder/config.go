package builder

import (
	"fmt"
	"time"
)

// Config controls the poll loop.
type Config struct {
	// PollInterval separates two polls, and two fetch attempts after a
	// failed preview load.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxAttempts bounds the iterations of one poll loop. Zero means
	// unbounded.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig polls every 15s for at most 30 minutes.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		MaxAttempts:  120,
	}
}

// Validate checks that values are sane.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("builder: poll_interval must be > 0")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("builder: max_attempts must be >= 0")
	}
	return nil
}
