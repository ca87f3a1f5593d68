package reader

import (
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
)

const (
	DefaultReadBackoff       = time.Second
	DefaultSimulatedInterval = 2 * time.Second
)

type Config struct {
	// Enabled selects the live device; when false the reader only simulates
	Enabled bool

	// ReadBackoff is the pause after a failed device read
	ReadBackoff time.Duration

	// SimulatedInterval is the pause between synthetic samples
	SimulatedInterval time.Duration

	// ReopenInterval is how often a simulating reader retries the device.
	// Zero disables reopening.
	ReopenInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		ReadBackoff:       DefaultReadBackoff,
		SimulatedInterval: DefaultSimulatedInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ReadBackoff <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "read backoff must be positive")
	}
	if c.SimulatedInterval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "simulated interval must be positive")
	}
	if c.ReopenInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, "reopen interval must not be negative")
	}
	return nil
}
