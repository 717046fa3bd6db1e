// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"coursesync/models"
)

// TxOpKind names the kind of a single operation inside a Transact batch.
type TxOpKind int

const (
	// TxPut upserts an entity record.
	TxPut TxOpKind = iota
	// TxDelete removes an entity record.
	TxDelete
	// TxSetCursor persists a sync cursor. Batching the cursor write with
	// the pulled records guarantees the cursor never advances past state
	// that did not commit.
	TxSetCursor
)

// TxOp is one operation of an atomic Transact batch.
type TxOp struct {
	Kind   TxOpKind
	Entity *models.Entity
	Key    models.EntityKey
	Cursor *models.SyncCursor
}

// EntityRepository is the durable typed store for domain records.
//
// Every successful Put, Delete, and Transact bumps a monotonic store
// revision counter inside the same transaction, letting dependents detect
// staleness without re-reading payloads.
type EntityRepository interface {
	// Put upserts a single entity record.
	Put(ctx context.Context, entity models.Entity) error

	// Get returns the record at key. Returns an error wrapping
	// app.ErrNotFound when absent and app.ErrCorruptLocalState when the
	// stored payload can no longer be decoded (the record is quarantined
	// in that case, not removed).
	Get(ctx context.Context, key models.EntityKey) (models.Entity, error)

	// Delete removes the record at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key models.EntityKey) error

	// Scan returns the collection's records matching predicate, skipping
	// quarantined rows. A nil predicate matches everything.
	Scan(ctx context.Context, collection string, predicate func(models.Entity) bool) ([]models.Entity, error)

	// Transact applies ops atomically: either every operation commits or
	// none do.
	Transact(ctx context.Context, ops []TxOp) error

	// SetLocalPath records a completed asset download on the owning
	// entity, marking it available offline.
	SetLocalPath(ctx context.Context, key models.EntityKey, localPath string) error

	// Revision returns the current store revision counter.
	Revision(ctx context.Context) (int64, error)
}

// ActionRepository persists the offline action log.
type ActionRepository interface {
	// Insert appends a new pending action.
	Insert(ctx context.Context, action models.Action) error

	// Pending returns all pending actions ordered by creation time.
	Pending(ctx context.Context) ([]models.Action, error)

	// PendingCount returns the number of pending actions.
	PendingCount(ctx context.Context) (int, error)

	// MarkAttempt records a failed apply attempt: increments retry_count
	// and stores the attempt time and error message.
	MarkAttempt(ctx context.Context, id string, attemptAt time.Time, lastError string) error

	// Abandon moves the action to the abandoned state.
	Abandon(ctx context.Context, id string) error

	// Delete removes the action, typically after a successful apply.
	Delete(ctx context.Context, id string) error

	// Abandoned returns all abandoned actions for operator inspection.
	Abandoned(ctx context.Context) ([]models.Action, error)
}

// DownloadRepository is the durable download task registry.
type DownloadRepository interface {
	// Upsert creates or replaces the task row.
	Upsert(ctx context.Context, task models.DownloadTask) error

	// GetByID returns the task with the given ID, or app.ErrNotFound.
	GetByID(ctx context.Context, id string) (models.DownloadTask, error)

	// GetByResourceKey returns the task registered for the resource key,
	// or app.ErrNotFound.
	GetByResourceKey(ctx context.Context, resourceKey string) (models.DownloadTask, error)

	// UpdateProgress persists transfer counters for the task.
	UpdateProgress(ctx context.Context, id string, transferred, total int64) error

	// List returns every registered task.
	List(ctx context.Context) ([]models.DownloadTask, error)

	// CompletedBytes sums total_bytes over completed tasks.
	CompletedBytes(ctx context.Context) (int64, error)

	// DeleteCompletedBefore removes completed tasks last updated before
	// cutoff and returns them so the caller can delete their artifacts.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) ([]models.DownloadTask, error)
}

// CacheRepository persists the bounded response cache.
type CacheRepository interface {
	// Get returns the entry at key and refreshes its LRU clock to now.
	// Expired and absent entries both report app.ErrNotFound.
	Get(ctx context.Context, key string, now time.Time) (models.CacheEntry, error)

	// Put inserts or replaces the entry, assigning its insert sequence.
	Put(ctx context.Context, entry models.CacheEntry) error

	// Stats aggregates size and count over non-expired entries.
	Stats(ctx context.Context, now time.Time) (models.CacheStats, error)

	// EvictionCandidates lists non-expired entries without payloads,
	// ordered worst-first: (priority ASC, last_accessed_at ASC,
	// insert_seq ASC).
	EvictionCandidates(ctx context.Context, now time.Time) ([]models.CacheEntry, error)

	// DeleteKeys removes the given entries.
	DeleteKeys(ctx context.Context, keys []string) error

	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// DeleteExpired removes entries whose TTL has passed, returning the
	// number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CursorRepository persists per-collection sync watermarks. Cursor writes
// that must commit together with pulled records go through
// EntityRepository.Transact instead.
type CursorRepository interface {
	// Get returns the cursor for the collection; a collection never
	// pulled yet yields a zero-value cursor, not an error.
	Get(ctx context.Context, collection string) (models.SyncCursor, error)

	// All returns every stored cursor.
	All(ctx context.Context) ([]models.SyncCursor, error)

	// Reset clears the collection's cursor, forcing the next sync to
	// pull from scratch.
	Reset(ctx context.Context, collection string) error
}
