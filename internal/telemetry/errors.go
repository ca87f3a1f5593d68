package telemetry

import "codeberg.org/mutker/agrimon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Input Errors
	ErrInvalidTimestamp = errors.ErrorCode("telemetry_invalid_timestamp")

	// Storage Errors
	ErrStorageAccess    = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit      = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose     = errors.ErrorCode("telemetry_storage_close_failed")
	ErrSchemaInitFailed = errors.ErrorCode("telemetry_schema_init_failed")
)

// IsStorageError reports whether err came from the persistence layer
func IsStorageError(err error) bool {
	return errors.HasCode(err, ErrStorageAccess) ||
		errors.HasCode(err, ErrStorageInit) ||
		errors.HasCode(err, ErrStorageClose)
}
