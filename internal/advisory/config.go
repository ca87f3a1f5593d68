package advisory

import (
	"net/url"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
)

const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "llama3.1:8b"
	DefaultTimeout = 60 * time.Second

	// Circuit breaker
	breakerFailures = 3
	breakerOpen     = 30 * time.Second
)

type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:    DefaultHost,
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.Host)
	if err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errFactory.WithData(ErrInvalidConfig, c.Host)
	}
	if c.Model == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "advisory model is empty")
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, c.Timeout)
	}
	return nil
}
