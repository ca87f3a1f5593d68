package supervisor

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	ErrStorageUnavailable = errors.ErrorCode("supervisor_storage_unavailable")
	ErrReaderInit         = errors.ErrorCode("supervisor_reader_init_failed")
	ErrStopTimeout        = errors.ErrorCode("supervisor_stop_timeout")
)

// IsStorageUnavailable reports whether err means no query could be answered
// because storage is not open
func IsStorageUnavailable(err error) bool {
	return errors.HasCode(err, ErrStorageUnavailable)
}
