package config

import "errors"

// Validation errors returned by [StructuredConfig.validate] when required
// configuration groups are incomplete or invalid.
var (
	// ErrInvalidStorageConfigs indicates invalid persistence settings
	// (for example, empty database path, in-memory path, or a negative
	// quota).
	ErrInvalidStorageConfigs = errors.New("invalid storage configuration")
	// ErrInvalidSyncConfigs indicates invalid orchestrator settings
	// (for example, missing remote base URL).
	ErrInvalidSyncConfigs = errors.New("invalid sync configuration")
)
