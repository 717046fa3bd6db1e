// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"time"

	"coursesync/models"
)

// Defaults applied by applyDefaults when the merged configuration leaves a
// tunable unset.
const (
	DefaultCacheCapacityBytes  = int64(64 << 20) // 64 MiB
	DefaultCacheTTL            = 15 * time.Minute
	DefaultDownloadConcurrency = 3
	DefaultProgressInterval    = 500 * time.Millisecond
	DefaultQueueMaxRetries     = 3
	DefaultDrainConcurrency    = 4
	DefaultSyncInterval        = 5 * time.Minute
	DefaultRequestTimeout      = 30 * time.Second
)

// applyDefaults fills tunables that none of the sources set. Required
// values (paths, remote URL) stay empty and are caught by validate.
func (cfg *StructuredConfig) applyDefaults() {
	if cfg.Cache.CapacityBytes <= 0 {
		cfg.Cache.CapacityBytes = DefaultCacheCapacityBytes
	}
	if cfg.Cache.DefaultTTL <= 0 {
		cfg.Cache.DefaultTTL = DefaultCacheTTL
	}
	if cfg.Downloads.Concurrency <= 0 {
		cfg.Downloads.Concurrency = DefaultDownloadConcurrency
	}
	if cfg.Downloads.ProgressInterval <= 0 {
		cfg.Downloads.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = DefaultQueueMaxRetries
	}
	if cfg.Queue.DrainConcurrency <= 0 {
		cfg.Queue.DrainConcurrency = DefaultDrainConcurrency
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = DefaultSyncInterval
	}
	if cfg.Sync.RequestTimeout <= 0 {
		cfg.Sync.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.Sync.Collections) == 0 {
		cfg.Sync.Collections = []string{
			models.CollectionCourses,
			models.CollectionLessons,
			models.CollectionProgress,
		}
	}
}

// validate checks that the final merged [StructuredConfig] satisfies all
// engine invariants before it is used at startup.
//
// Returns nil if the configuration is valid, or a sentinel error otherwise.
func (cfg *StructuredConfig) validate() error {
	if cfg.Storage.DBPath == "" || strings.Contains(cfg.Storage.DBPath, "memory") {
		return ErrInvalidStorageConfigs
	}

	if cfg.Storage.DownloadDir == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Storage.QuotaBytes < 0 {
		return ErrInvalidStorageConfigs
	}

	if cfg.Sync.RemoteBaseURL == "" {
		return ErrInvalidSyncConfigs
	}

	return nil
}
