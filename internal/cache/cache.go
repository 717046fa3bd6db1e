// SPDX-License-Identifier: Apache-2.0

// Package cache bounds the size of locally cached remote responses.
//
// Entries live in the cache_entries table and compete for a configured
// byte capacity. When an insert pushes usage over capacity the engine
// evicts the worst entries first, ordered by (priority ASC,
// last_accessed_at ASC, insert_seq ASC), until usage drops to the
// low-water mark. Expired entries are removed by the sweep regardless of
// priority.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/store"
	"coursesync/models"
)

// evictTargetRatio is the low-water mark: eviction stops once usage is at
// or below this fraction of capacity, leaving headroom for the next
// inserts.
const evictTargetRatio = 0.8

// Loader produces the payload for a cache key on a miss.
type Loader func(ctx context.Context) ([]byte, error)

// Engine is the cache eviction engine. Safe for concurrent use; inserts
// and their follow-up evictions are serialized so the capacity invariant
// holds under concurrent FetchOrCompute calls.
type Engine struct {
	repo       store.CacheRepository
	capacity   int64
	defaultTTL time.Duration
	logger     *logger.Logger

	// now is swapped in tests.
	now func() time.Time

	mu sync.Mutex
}

// NewEngine constructs the eviction engine over the given repository.
func NewEngine(repo store.CacheRepository, cfg config.Cache, log *logger.Logger) *Engine {
	return &Engine{
		repo:       repo,
		capacity:   cfg.CapacityBytes,
		defaultTTL: cfg.DefaultTTL,
		logger:     log,
		now:        time.Now,
	}
}

// FetchOrCompute returns the cached payload for key, invoking loader on a
// miss and caching the result. A cache hit refreshes the entry's LRU
// clock. Loader failures propagate unchanged and cache nothing. A ttl of
// zero applies the configured default and a negative ttl disables expiry
// for the entry; a payload larger than the whole
// capacity is returned to the caller uncached instead of flushing the
// cache to make room for it.
func (e *Engine) FetchOrCompute(ctx context.Context, key string, priority int, ttl time.Duration, loader Loader) ([]byte, error) {
	log := logger.FromContext(ctx)
	now := e.now().UTC()

	entry, err := e.repo.Get(ctx, key, now)
	if err == nil {
		return entry.Payload, nil
	}

	payload, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache loader for %q: %w", key, err)
	}

	size := int64(len(payload))
	if size > e.capacity {
		log.Warn().
			Str("func", "Engine.FetchOrCompute").
			Str("key", key).
			Int64("size", size).
			Int64("capacity", e.capacity).
			Msg("payload exceeds cache capacity, returned uncached")
		return payload, nil
	}

	if ttl == 0 {
		ttl = e.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.repo.Put(ctx, models.CacheEntry{
		Key:            key,
		Payload:        payload,
		SizeBytes:      size,
		Priority:       priority,
		LastAccessedAt: now,
		ExpiresAt:      expiresAt,
	}); err != nil {
		return nil, err
	}

	if err = e.evictOverCapacity(ctx, now); err != nil {
		return nil, err
	}

	return payload, nil
}

// Invalidate removes every entry whose key starts with keyPrefix.
// Typically called after a local mutation makes cached reads stale.
func (e *Engine) Invalidate(ctx context.Context, keyPrefix string) error {
	return e.repo.DeletePrefix(ctx, keyPrefix)
}

// Stats aggregates size and count over non-expired entries.
func (e *Engine) Stats(ctx context.Context) (models.CacheStats, error) {
	return e.repo.Stats(ctx, e.now().UTC())
}

// SweepExpired removes entries whose TTL has passed, regardless of
// priority, and returns the number removed.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	log := logger.FromContext(ctx)

	removed, err := e.repo.DeleteExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Debug().
			Str("func", "Engine.SweepExpired").
			Int64("removed", removed).
			Msg("expired cache entries swept")
	}
	return removed, nil
}

// evictOverCapacity brings non-expired usage down to the low-water mark.
// Expired rows are removed first so they never cost a live entry its
// slot. Caller holds e.mu.
func (e *Engine) evictOverCapacity(ctx context.Context, now time.Time) error {
	log := logger.FromContext(ctx)

	stats, err := e.repo.Stats(ctx, now)
	if err != nil {
		return err
	}
	if stats.TotalSize <= e.capacity {
		return nil
	}

	if _, err = e.repo.DeleteExpired(ctx, now); err != nil {
		return err
	}
	stats, err = e.repo.Stats(ctx, now)
	if err != nil {
		return err
	}

	target := int64(float64(e.capacity) * evictTargetRatio)
	if stats.TotalSize <= target {
		return nil
	}

	candidates, err := e.repo.EvictionCandidates(ctx, now)
	if err != nil {
		return err
	}

	usage := stats.TotalSize
	evict := make([]string, 0, 8)
	for _, candidate := range candidates {
		if usage <= target {
			break
		}
		evict = append(evict, candidate.Key)
		usage -= candidate.SizeBytes
	}

	if err = e.repo.DeleteKeys(ctx, evict); err != nil {
		return err
	}

	log.Info().
		Str("func", "Engine.evictOverCapacity").
		Int("evicted", len(evict)).
		Int64("usage", usage).
		Int64("capacity", e.capacity).
		Msg("cache evicted down to low-water mark")

	return nil
}
