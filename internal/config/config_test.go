// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_AllFields(t *testing.T) {
	// Arrange
	envVars := map[string]string{
		"CONFIG": "/path/to/config.json",

		"STORAGE_DB_PATH":      "/var/lib/coursesync/engine.db",
		"STORAGE_DOWNLOAD_DIR": "/var/lib/coursesync/downloads",
		"STORAGE_QUOTA_BYTES":  "1073741824",

		"CACHE_CAPACITY_BYTES": "1048576",
		"CACHE_DEFAULT_TTL":    "10m",

		"DOWNLOADS_CONCURRENCY":       "2",
		"DOWNLOADS_PROGRESS_INTERVAL": "250ms",
		"DOWNLOADS_MAX_AGE":           "720h",

		"QUEUE_MAX_RETRIES":       "5",
		"QUEUE_DRAIN_CONCURRENCY": "8",

		"SYNC_REMOTE_BASE_URL": "https://api.example.com",
		"SYNC_REQUEST_TIMEOUT": "30s",
		"SYNC_INTERVAL":        "5m",
		"SYNC_COLLECTIONS":     "courses,progress",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	// Act
	cfg := &StructuredConfig{}
	err := parseEnv(cfg)

	// Assert
	require.NoError(t, err)

	assert.Equal(t, "/path/to/config.json", cfg.JSONFilePath)

	assert.Equal(t, "/var/lib/coursesync/engine.db", cfg.Storage.DBPath)
	assert.Equal(t, "/var/lib/coursesync/downloads", cfg.Storage.DownloadDir)
	assert.Equal(t, int64(1073741824), cfg.Storage.QuotaBytes)

	assert.Equal(t, int64(1048576), cfg.Cache.CapacityBytes)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)

	assert.Equal(t, 2, cfg.Downloads.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Downloads.ProgressInterval)
	assert.Equal(t, 720*time.Hour, cfg.Downloads.MaxAge)

	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 8, cfg.Queue.DrainConcurrency)

	assert.Equal(t, "https://api.example.com", cfg.Sync.RemoteBaseURL)
	assert.Equal(t, 30*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, []string{"courses", "progress"}, cfg.Sync.Collections)
}

func TestParseJSON_FullFile(t *testing.T) {
	payload := `{
		"storage": {"db_path": "engine.db", "download_dir": "dl", "quota_bytes": 2048},
		"cache": {"capacity_bytes": 100, "default_ttl": "1m"},
		"downloads": {"concurrency": 4, "progress_interval": "100ms", "max_age": "24h"},
		"queue": {"max_retries": 2, "drain_concurrency": 3},
		"sync": {"remote_base_url": "http://localhost:8080", "request_timeout": "15s", "interval": "2m", "collections": ["courses"]}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := parseJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "engine.db", cfg.Storage.DBPath)
	assert.Equal(t, "dl", cfg.Storage.DownloadDir)
	assert.Equal(t, int64(2048), cfg.Storage.QuotaBytes)
	assert.Equal(t, int64(100), cfg.Cache.CapacityBytes)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 4, cfg.Downloads.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Downloads.ProgressInterval)
	assert.Equal(t, 24*time.Hour, cfg.Downloads.MaxAge)
	assert.Equal(t, 2, cfg.Queue.MaxRetries)
	assert.Equal(t, 3, cfg.Queue.DrainConcurrency)
	assert.Equal(t, "http://localhost:8080", cfg.Sync.RemoteBaseURL)
	assert.Equal(t, 15*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, []string{"courses"}, cfg.Sync.Collections)
}

func TestParseJSON_FileNotFound(t *testing.T) {
	_, err := parseJSON(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestApplyDefaults_FillsUnsetTunables(t *testing.T) {
	cfg := &StructuredConfig{}
	cfg.applyDefaults()

	assert.Equal(t, DefaultCacheCapacityBytes, cfg.Cache.CapacityBytes)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.DefaultTTL)
	assert.Equal(t, DefaultDownloadConcurrency, cfg.Downloads.Concurrency)
	assert.Equal(t, DefaultProgressInterval, cfg.Downloads.ProgressInterval)
	assert.Equal(t, DefaultQueueMaxRetries, cfg.Queue.MaxRetries)
	assert.Equal(t, DefaultDrainConcurrency, cfg.Queue.DrainConcurrency)
	assert.Equal(t, DefaultSyncInterval, cfg.Sync.Interval)
	assert.Equal(t, DefaultRequestTimeout, cfg.Sync.RequestTimeout)
	assert.Len(t, cfg.Sync.Collections, 3)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &StructuredConfig{}
	cfg.Cache.CapacityBytes = 123
	cfg.Sync.Interval = time.Minute
	cfg.applyDefaults()

	assert.Equal(t, int64(123), cfg.Cache.CapacityBytes)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
}

func TestValidate(t *testing.T) {
	valid := func() *StructuredConfig {
		cfg := &StructuredConfig{}
		cfg.Storage.DBPath = "engine.db"
		cfg.Storage.DownloadDir = "downloads"
		cfg.Sync.RemoteBaseURL = "http://localhost:8080"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*StructuredConfig)
		wantErr error
	}{
		{name: "valid", mutate: func(*StructuredConfig) {}, wantErr: nil},
		{
			name:    "empty db path",
			mutate:  func(c *StructuredConfig) { c.Storage.DBPath = "" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "in-memory db path rejected",
			mutate:  func(c *StructuredConfig) { c.Storage.DBPath = ":memory:" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "empty download dir",
			mutate:  func(c *StructuredConfig) { c.Storage.DownloadDir = "" },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "negative quota",
			mutate:  func(c *StructuredConfig) { c.Storage.QuotaBytes = -1 },
			wantErr: ErrInvalidStorageConfigs,
		},
		{
			name:    "missing remote url",
			mutate:  func(c *StructuredConfig) { c.Sync.RemoteBaseURL = "" },
			wantErr: ErrInvalidSyncConfigs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSplitCollections(t *testing.T) {
	assert.Nil(t, splitCollections(""))
	assert.Equal(t, []string{"a", "b"}, splitCollections("a, b"))
	assert.Equal(t, []string{"a"}, splitCollections("a,,"))
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, time.Duration(d))

	require.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}
