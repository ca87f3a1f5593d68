package telemetry

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/agrimon/sensor_data.db"
	busyTimeoutMs  = 5000
)

type Config struct {
	DBPath string
}

func DefaultConfig() Config {
	return Config{
		DBPath: defaultDBPath,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}
