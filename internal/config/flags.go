package config

import (
	"flag"
	"strings"
	"time"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-d database file path
//	-downloads download destination directory
//	-quota storage quota in bytes for downloaded assets
//	-cache-capacity cache capacity in bytes
//	-cache-ttl default cache entry TTL (e.g. "15m")
//	-download-concurrency maximum simultaneous transfers
//	-queue-max-retries retry budget per offline action
//	-remote remote store base URL
//	-sync-interval periodic sync cadence (e.g. "5m")
//	-request-timeout remote request timeout (e.g. "30s")
//	-collections comma-separated entity collections to pull
//	-c/-config json file path with configs
func ParseFlags() *StructuredConfig {
	var dbPath string
	var downloadDir string
	var quotaBytes int64
	var cacheCapacity int64
	var cacheTTL time.Duration
	var downloadConcurrency int
	var queueMaxRetries int
	var remoteBaseURL string
	var syncInterval time.Duration
	var requestTimeout time.Duration
	var collections string
	var jsonConfigPath string

	flag.StringVar(&dbPath, "d", "", "Database file path")
	flag.StringVar(&downloadDir, "downloads", "", "Download destination directory")
	flag.Int64Var(&quotaBytes, "quota", 0, "Storage quota in bytes")
	flag.Int64Var(&cacheCapacity, "cache-capacity", 0, "Cache capacity in bytes")
	flag.DurationVar(&cacheTTL, "cache-ttl", 0, "Default cache TTL (e.g., 15m)")
	flag.IntVar(&downloadConcurrency, "download-concurrency", 0, "Maximum simultaneous transfers")
	flag.IntVar(&queueMaxRetries, "queue-max-retries", 0, "Retry budget per offline action")
	flag.StringVar(&remoteBaseURL, "remote", "", "Remote store base URL")
	flag.DurationVar(&syncInterval, "sync-interval", 0, "Periodic sync cadence (e.g., 5m)")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Remote request timeout (e.g., 30s)")
	flag.StringVar(&collections, "collections", "", "Comma-separated entity collections to pull")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")

	flag.Parse()

	return &StructuredConfig{
		Storage: Storage{
			DBPath:      dbPath,
			DownloadDir: downloadDir,
			QuotaBytes:  quotaBytes,
		},
		Cache: Cache{
			CapacityBytes: cacheCapacity,
			DefaultTTL:    cacheTTL,
		},
		Downloads: Downloads{
			Concurrency: downloadConcurrency,
		},
		Queue: Queue{
			MaxRetries: queueMaxRetries,
		},
		Sync: Sync{
			RemoteBaseURL:  remoteBaseURL,
			Interval:       syncInterval,
			RequestTimeout: requestTimeout,
			Collections:    splitCollections(collections),
		},
		JSONFilePath: jsonConfigPath,
	}
}

func splitCollections(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
