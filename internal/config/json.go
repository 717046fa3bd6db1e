package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type StructuredJSONConfig struct {
	Storage struct {
		DBPath      string `json:"db_path"`
		DownloadDir string `json:"download_dir"`
		QuotaBytes  int64  `json:"quota_bytes"`
	} `json:"storage,omitempty"`

	Cache struct {
		CapacityBytes int64    `json:"capacity_bytes"`
		DefaultTTL    Duration `json:"default_ttl"`
	} `json:"cache,omitempty"`

	Downloads struct {
		Concurrency      int      `json:"concurrency"`
		ProgressInterval Duration `json:"progress_interval"`
		MaxAge           Duration `json:"max_age"`
	} `json:"downloads,omitempty"`

	Queue struct {
		MaxRetries       int `json:"max_retries"`
		DrainConcurrency int `json:"drain_concurrency"`
	} `json:"queue,omitempty"`

	Sync struct {
		RemoteBaseURL  string   `json:"remote_base_url"`
		RequestTimeout Duration `json:"request_timeout"`
		Interval       Duration `json:"interval"`
		Collections    []string `json:"collections"`
	} `json:"sync,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		Storage: Storage{
			DBPath:      jsonCfg.Storage.DBPath,
			DownloadDir: jsonCfg.Storage.DownloadDir,
			QuotaBytes:  jsonCfg.Storage.QuotaBytes,
		},
		Cache: Cache{
			CapacityBytes: jsonCfg.Cache.CapacityBytes,
			DefaultTTL:    time.Duration(jsonCfg.Cache.DefaultTTL),
		},
		Downloads: Downloads{
			Concurrency:      jsonCfg.Downloads.Concurrency,
			ProgressInterval: time.Duration(jsonCfg.Downloads.ProgressInterval),
			MaxAge:           time.Duration(jsonCfg.Downloads.MaxAge),
		},
		Queue: Queue{
			MaxRetries:       jsonCfg.Queue.MaxRetries,
			DrainConcurrency: jsonCfg.Queue.DrainConcurrency,
		},
		Sync: Sync{
			RemoteBaseURL:  jsonCfg.Sync.RemoteBaseURL,
			RequestTimeout: time.Duration(jsonCfg.Sync.RequestTimeout),
			Interval:       time.Duration(jsonCfg.Sync.Interval),
			Collections:    jsonCfg.Sync.Collections,
		},
		JSONFilePath: "",
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
