// SPDX-License-Identifier: Apache-2.0

package models

import "time"

// DownloadStatus is a state in the download task machine.
//
// Transitions:
//
//	queued → downloading → {completed | failed | cancelled | paused}
//	paused → downloading            (Resume)
//	failed, cancelled → queued      (explicit Resume / retry)
type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadPaused      DownloadStatus = "paused"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadCancelled   DownloadStatus = "cancelled"
)

// Terminal reports whether the status admits no further transfer activity
// without an explicit Resume.
func (s DownloadStatus) Terminal() bool {
	switch s {
	case DownloadCompleted, DownloadFailed, DownloadCancelled:
		return true
	}
	return false
}

// DownloadTask is the persisted registry entry for one large binary
// transfer (video, PDF). At most one task per ResourceKey is active at a
// time; a second Start for the same key attaches to the existing task.
type DownloadTask struct {
	// ID is the client-generated UUID of the task.
	ID string `json:"id"`

	// ResourceKey is the logical identity of the asset, typically the
	// owning entity key in "collection/id" form.
	ResourceKey string `json:"resource_key"`

	// SourceURL is the authorized, time-limited download URL.
	SourceURL string `json:"source_url"`

	// LocalPath is the final destination of the completed artifact.
	// While a transfer is in flight, data accumulates in LocalPath+".part".
	LocalPath string `json:"local_path"`

	// Quality is the caller-selected variant label (e.g. "720p", "hd").
	Quality string `json:"quality"`

	// TotalBytes is the expected artifact size; zero until known.
	TotalBytes int64 `json:"total_bytes"`

	// TransferredBytes is the number of bytes written so far.
	TransferredBytes int64 `json:"transferred_bytes"`

	// Status is the current FSM state.
	Status DownloadStatus `json:"status"`

	// Checksum is the hex SHA-256 of the completed artifact.
	Checksum string `json:"checksum,omitempty"`

	// LastError is the message of the most recent transfer failure.
	LastError string `json:"last_error,omitempty"`

	// CreatedAt is the time the task was first registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the time of the last status or progress persist.
	UpdatedAt time.Time `json:"updated_at"`
}

// DownloadProgress is one snapshot on a task's progress stream.
// The terminal snapshot (Status completed, failed, or cancelled) is
// delivered exactly once, after which the stream is closed.
type DownloadProgress struct {
	TaskID           string         `json:"task_id"`
	TransferredBytes int64          `json:"transferred_bytes"`
	TotalBytes       int64          `json:"total_bytes"`
	Status           DownloadStatus `json:"status"`

	// Err carries the failure message on a terminal failed snapshot.
	Err string `json:"err,omitempty"`
}
