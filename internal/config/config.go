// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the
// coursesync engine. It aggregates all sub-configurations and is populated
// by merging values from environment variables, command-line flags, and an
// optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// Storage holds the local persistence settings: the sqlite database
	// path, the download destination directory, and the storage quota.
	Storage Storage `envPrefix:"STORAGE_"`

	// Cache holds the bounded response-cache settings.
	Cache Cache `envPrefix:"CACHE_"`

	// Downloads holds the binary transfer settings.
	Downloads Downloads `envPrefix:"DOWNLOADS_"`

	// Queue holds the offline action queue settings.
	Queue Queue `envPrefix:"QUEUE_"`

	// Sync holds the orchestrator and remote store settings.
	Sync Sync `envPrefix:"SYNC_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// Storage holds the on-device persistence settings.
type Storage struct {
	// DBPath is the path of the sqlite database file holding entities,
	// actions, download tasks, cache entries, and sync cursors.
	// Env: STORAGE_DB_PATH
	DBPath string `env:"DB_PATH"`

	// DownloadDir is the directory completed assets are written into.
	// Env: STORAGE_DOWNLOAD_DIR
	DownloadDir string `env:"DOWNLOAD_DIR"`

	// QuotaBytes is the total byte budget for downloaded assets. A
	// transfer whose expected size would cross the quota fails fast.
	// Env: STORAGE_QUOTA_BYTES
	QuotaBytes int64 `env:"QUOTA_BYTES"`
}

// Cache holds configuration for the bounded response cache.
type Cache struct {
	// CapacityBytes is the hard ceiling on the summed size of non-expired
	// cache entries. Eviction targets 80% of this value.
	// Env: CACHE_CAPACITY_BYTES
	CapacityBytes int64 `env:"CAPACITY_BYTES"`

	// DefaultTTL is applied to entries whose loader does not specify one.
	// Env: CACHE_DEFAULT_TTL
	DefaultTTL time.Duration `env:"DEFAULT_TTL"`
}

// Downloads holds configuration for the download manager.
type Downloads struct {
	// Concurrency bounds the number of simultaneous transfers.
	// Env: DOWNLOADS_CONCURRENCY
	Concurrency int `env:"CONCURRENCY"`

	// ProgressInterval is the minimum spacing between two progress
	// snapshots on a task's stream; the terminal snapshot ignores it.
	// Env: DOWNLOADS_PROGRESS_INTERVAL
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL"`

	// MaxAge is the age past which completed downloads are removed during
	// the orchestrator's maintenance pass. Zero disables cleanup.
	// Env: DOWNLOADS_MAX_AGE
	MaxAge time.Duration `env:"MAX_AGE"`
}

// Queue holds configuration for the offline action queue.
type Queue struct {
	// MaxRetries is the number of failed apply attempts after which an
	// action is moved to the abandoned state. Default 3.
	// Env: QUEUE_MAX_RETRIES
	MaxRetries int `env:"MAX_RETRIES"`

	// DrainConcurrency bounds how many independent target keys are
	// applied in parallel during a drain pass.
	// Env: QUEUE_DRAIN_CONCURRENCY
	DrainConcurrency int `env:"DRAIN_CONCURRENCY"`
}

// Sync holds configuration for the orchestrator and the remote store.
type Sync struct {
	// RemoteBaseURL is the base URL of the authoritative backend.
	// Env: SYNC_REMOTE_BASE_URL
	RemoteBaseURL string `env:"REMOTE_BASE_URL"`

	// RequestTimeout is the per-request timeout for pull/push calls.
	// Env: SYNC_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// Interval is the periodic sync cadence. Defaults to 5 minutes when
	// unset.
	// Env: SYNC_INTERVAL
	Interval time.Duration `env:"INTERVAL"`

	// Collections lists the entity collections pulled incrementally.
	// Env: SYNC_COLLECTIONS (comma-separated)
	Collections []string `env:"COLLECTIONS"`
}

// GetStructuredConfig loads, merges, and validates the engine
// configuration from all available sources in the following priority order
// (last source wins for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}
