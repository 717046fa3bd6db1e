// SPDX-License-Identifier: Apache-2.0

// Package models contains the domain types shared by every layer of the
// coursesync engine: entity records, offline actions, download tasks,
// cache entries, and sync bookkeeping structures.
//
// The package has no dependencies on other engine packages so that the
// store, queue, download, and sync layers can all exchange the same types
// without import cycles.
package models

import (
	"encoding/json"
	"time"
)

// Well-known entity collections persisted by the local store.
// Feature code is free to introduce additional collections; these are the
// ones the learning client ships with.
const (
	CollectionCourses  = "courses"
	CollectionLessons  = "lessons"
	CollectionProgress = "progress"
)

// EntityKey identifies an entity record by its collection and logical ID.
// The pair is stable across devices and is the unit of addressing for both
// local reads and offline actions.
type EntityKey struct {
	// Collection is the logical table the record belongs to,
	// e.g. "courses" or "progress".
	Collection string `json:"collection"`

	// ID is the record identifier, unique within the collection.
	ID string `json:"id"`
}

// String renders the key as "collection/id", the form used in action
// target keys and log fields.
func (k EntityKey) String() string {
	return k.Collection + "/" + k.ID
}

// Entity is a single domain record (course, lesson, progress mark, ...)
// as persisted by the local store.
//
// Payload is kept opaque at this layer: the sync engine moves records
// between the remote store and the local database without interpreting
// their content beyond the bookkeeping fields below.
type Entity struct {
	// Key identifies the record.
	Key EntityKey `json:"key"`

	// Payload is the raw JSON document of the record.
	Payload json.RawMessage `json:"payload"`

	// Dirty is true while the record carries local changes that have not
	// yet been confirmed by the remote store.
	Dirty bool `json:"dirty"`

	// LastSyncedAt is the time the record was last confirmed against the
	// remote store. Zero for records that have never been synced.
	LastSyncedAt time.Time `json:"last_synced_at"`

	// LocalPath, when non-empty, points at a completed asset download
	// belonging to this record. A record with a LocalPath is considered
	// available offline.
	LocalPath string `json:"local_path,omitempty"`
}

// StorageInfo summarises the engine's on-device footprint.
// Exposed to feature code via the engine facade.
type StorageInfo struct {
	// DownloadBytes is the total size of completed download artifacts.
	DownloadBytes int64 `json:"download_bytes"`

	// DownloadCount is the number of registered download tasks.
	DownloadCount int `json:"download_count"`

	// CacheBytes is the total size of non-expired cache entries.
	CacheBytes int64 `json:"cache_bytes"`

	// CacheEntryCount is the number of non-expired cache entries.
	CacheEntryCount int `json:"cache_entry_count"`

	// PendingActions is the number of offline actions awaiting drain.
	PendingActions int `json:"pending_actions"`
}
