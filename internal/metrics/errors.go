package metrics

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Registration Errors
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")
)
