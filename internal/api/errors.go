package api

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	ErrInvalidParam = errors.ErrorCode("api_invalid_param")
	ErrInvalidBody  = errors.ErrorCode("api_invalid_body")
	ErrServeFailed  = errors.ErrorCode("api_serve_failed")
)
