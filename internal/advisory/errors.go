package advisory

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("advisory_invalid_config")

	// Endpoint errors, all of which trigger the heuristic fallback
	ErrRequestFailed = errors.ErrorCode("advisory_request_failed")
	ErrBadStatus     = errors.ErrorCode("advisory_bad_status")
	ErrInvalidReply  = errors.ErrorCode("advisory_invalid_reply")
	ErrEmptyReply    = errors.ErrorCode("advisory_empty_reply")
	ErrBreakerOpen   = errors.ErrorCode("advisory_breaker_open")
)
