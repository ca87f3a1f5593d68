package metrics

import "codeberg.org/mutker/agrimon/internal/errors"

const defaultNamespace = "agrimon"

type Config struct {
	Enabled   bool
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Namespace only matters when metrics are exported
	if c.Enabled && c.Namespace == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "metrics namespace is empty")
	}
	return nil
}
