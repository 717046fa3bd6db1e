// SPDX-License-Identifier: Apache-2.0

package models

import "time"

// Cache entry priorities. Lower-priority entries are evicted first.
const (
	CachePriorityLow    = 0
	CachePriorityNormal = 1
	CachePriorityHigh   = 2
)

// CacheEntry is a bounded-cache record for one remote-response payload.
type CacheEntry struct {
	// Key is the logical resource identity, e.g. "courses/list?page=1".
	// Prefix invalidation operates on this field.
	Key string `json:"key"`

	// Payload is the cached response body.
	Payload []byte `json:"payload"`

	// SizeBytes is len(Payload), denormalized for capacity accounting.
	SizeBytes int64 `json:"size_bytes"`

	// Priority ranks the entry for eviction; see CachePriority constants.
	Priority int `json:"priority"`

	// LastAccessedAt is refreshed on every cache hit (LRU clock).
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// ExpiresAt is the TTL deadline; expired entries are removed by the
	// sweep regardless of priority. Zero means no expiry.
	ExpiresAt time.Time `json:"expires_at"`

	// InsertSeq is a monotonic insertion counter used as the final
	// eviction tie-breaker.
	InsertSeq int64 `json:"insert_seq"`
}

// Expired reports whether the entry's TTL has passed at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheStats is the aggregate view returned by the eviction engine.
type CacheStats struct {
	// TotalSize is the summed SizeBytes of non-expired entries.
	TotalSize int64 `json:"total_size"`

	// EntryCount is the number of non-expired entries.
	EntryCount int `json:"entry_count"`
}
