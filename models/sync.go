// SPDX-License-Identifier: Apache-2.0

package models

import "time"

// SyncState names the orchestrator's current phase.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncError   SyncState = "error"
)

// SyncStatus is the observable state of the sync orchestrator, exposed to
// feature code as a stream. Error state keeps the last failure until the
// next successful run clears it.
type SyncStatus struct {
	State SyncState `json:"state"`

	// LastStartedAt is the start time of the most recent sync run.
	LastStartedAt time.Time `json:"last_started_at,omitempty"`

	// LastFinishedAt is the completion time of the most recent run.
	LastFinishedAt time.Time `json:"last_finished_at,omitempty"`

	// LastError is the message of the most recent failed run.
	LastError string `json:"last_error,omitempty"`

	// Abandoned is the running count of actions abandoned across drains,
	// surfaced so the UI layer can prompt for manual handling.
	Abandoned int `json:"abandoned,omitempty"`
}

// SyncCursor is the per-collection watermark bounding incremental pulls.
// It advances only after the pulled batch has committed locally, so a
// failed or cancelled pull retries the same window idempotently.
type SyncCursor struct {
	Collection string    `json:"collection"`
	Cursor     string    `json:"cursor"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PullBatch is one page of authoritative records returned by the remote
// store for a collection since a given cursor.
type PullBatch struct {
	Records []Entity `json:"records"`

	// NewCursor is the watermark to persist once Records has committed.
	NewCursor string `json:"new_cursor"`

	// HasMore indicates another page is available immediately.
	HasMore bool `json:"has_more"`
}
