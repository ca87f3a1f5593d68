package reader

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrorCode("reader_invalid_config")
	ErrAlreadyRunning = errors.ErrorCode("reader_already_running")
)
