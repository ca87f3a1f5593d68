package source

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	// Device errors
	ErrDeviceUnavailable = errors.ErrorCode("source_device_unavailable")
	ErrInvalidConfig     = errors.ErrorCode("source_invalid_config")

	// Read errors
	ErrReadFailed  = errors.ErrorCode("source_read_failed")
	ErrReadTimeout = errors.ErrorCode("source_read_timeout")
	ErrCloseFailed = errors.ErrorCode("source_close_failed")
)

// IsTimeout reports whether err only means no line arrived in time
func IsTimeout(err error) bool {
	return errors.HasCode(err, ErrReadTimeout)
}
