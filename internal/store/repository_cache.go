// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"coursesync/internal/app"
	"coursesync/internal/logger"
	"coursesync/models"
)

// cacheRepository is the sqlite-backed implementation of [CacheRepository].
// Eviction policy lives in the cache engine; this layer only answers the
// queries the policy needs.
type cacheRepository struct {
	*DB
	logger *logger.Logger
}

// NewCacheRepository constructs a [CacheRepository] backed by the provided
// database connection and logger.
func NewCacheRepository(db *DB, logger *logger.Logger) CacheRepository {
	return &cacheRepository{
		DB:     db,
		logger: logger,
	}
}

// Get implements CacheRepository.
func (r *cacheRepository) Get(ctx context.Context, key string, now time.Time) (models.CacheEntry, error) {
	log := logger.FromContext(ctx)

	query, args, err := cacheSelect(true).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	entry, err := scanCacheRow(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CacheEntry{}, fmt.Errorf("%w: cache entry", app.ErrNotFound)
		}
		log.Err(err).
			Str("func", "cacheRepository.Get").
			Str("key", key).
			Msg("failed to scan cache entry row")
		return models.CacheEntry{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	// An expired entry is indistinguishable from an absent one to callers.
	if entry.Expired(now) {
		return models.CacheEntry{}, fmt.Errorf("%w: cache entry", app.ErrNotFound)
	}

	if _, err = r.DB.ExecContext(ctx, touchCacheEntry, now, key); err != nil {
		log.Err(err).
			Str("func", "cacheRepository.Get").
			Str("key", key).
			Msg("failed to refresh cache entry access time")
		return models.CacheEntry{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	entry.LastAccessedAt = now

	return entry, nil
}

// Put implements CacheRepository.
func (r *cacheRepository) Put(ctx context.Context, entry models.CacheEntry) error {
	log := logger.FromContext(ctx)

	var seq int64
	if err := r.DB.QueryRowContext(ctx, nextCacheSeq).Scan(&seq); err != nil {
		return fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt
	}

	_, err := r.DB.ExecContext(ctx, upsertCacheEntry,
		entry.Key,
		entry.Payload,
		entry.SizeBytes,
		entry.Priority,
		entry.LastAccessedAt,
		expiresAt,
		seq,
	)
	if err != nil {
		log.Err(err).
			Str("func", "cacheRepository.Put").
			Str("key", entry.Key).
			Msg("failed to upsert cache entry")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// Stats implements CacheRepository.
func (r *cacheRepository) Stats(ctx context.Context, now time.Time) (models.CacheStats, error) {
	query, args, err := sq.Select("COALESCE(SUM(size_bytes), 0)", "COUNT(*)").
		From("cache_entries").
		Where(notExpired(now)).
		ToSql()
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	var stats models.CacheStats
	if err = r.DB.QueryRowContext(ctx, query, args...).Scan(&stats.TotalSize, &stats.EntryCount); err != nil {
		return models.CacheStats{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return stats, nil
}

// EvictionCandidates implements CacheRepository. Payloads are omitted
// because the eviction engine only needs keys and sizes.
func (r *cacheRepository) EvictionCandidates(ctx context.Context, now time.Time) ([]models.CacheEntry, error) {
	log := logger.FromContext(ctx)

	query, args, err := cacheSelect(false).
		Where(notExpired(now)).
		OrderBy("priority ASC", "last_accessed_at ASC", "insert_seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "cacheRepository.EvictionCandidates").
			Msg("failed to query eviction candidates")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	entries := make([]models.CacheEntry, 0, 50)
	for rows.Next() {
		entry, scanErr := scanCacheRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return entries, nil
}

// DeleteKeys implements CacheRepository.
func (r *cacheRepository) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	log := logger.FromContext(ctx)

	query, args, err := sq.Delete("cache_entries").Where(sq.Eq{"key": keys}).ToSql()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	if _, err = r.DB.ExecContext(ctx, query, args...); err != nil {
		log.Err(err).
			Str("func", "cacheRepository.DeleteKeys").
			Int("count", len(keys)).
			Msg("failed to delete cache entries")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// DeletePrefix implements CacheRepository. LIKE metacharacters inside the
// prefix are escaped so "courses/list?page=1" matches literally.
func (r *cacheRepository) DeletePrefix(ctx context.Context, prefix string) error {
	log := logger.FromContext(ctx)

	pattern := escapeLikePattern(prefix) + "%"
	if _, err := r.DB.ExecContext(ctx, deleteCacheEntriesByPrefix, pattern); err != nil {
		log.Err(err).
			Str("func", "cacheRepository.DeletePrefix").
			Str("prefix", prefix).
			Msg("failed to delete cache entries by prefix")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// DeleteExpired implements CacheRepository.
func (r *cacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	log := logger.FromContext(ctx)

	res, err := r.DB.ExecContext(ctx, deleteExpiredCacheEntries, now)
	if err != nil {
		log.Err(err).
			Str("func", "cacheRepository.DeleteExpired").
			Msg("failed to delete expired cache entries")
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return removed, nil
}

func cacheSelect(withPayload bool) sq.SelectBuilder {
	payload := "payload"
	if !withPayload {
		payload = "NULL AS payload"
	}
	return sq.Select(
		"key", payload, "size_bytes", "priority",
		"last_accessed_at", "expires_at", "insert_seq",
	).From("cache_entries")
}

func notExpired(now time.Time) sq.Or {
	return sq.Or{
		sq.Eq{"expires_at": nil},
		sq.Gt{"expires_at": now},
	}
}

func scanCacheRow(row rowScanner) (models.CacheEntry, error) {
	var entry models.CacheEntry
	var expiresAt sql.NullTime

	err := row.Scan(
		&entry.Key,
		&entry.Payload,
		&entry.SizeBytes,
		&entry.Priority,
		&entry.LastAccessedAt,
		&expiresAt,
		&entry.InsertSeq,
	)
	if err != nil {
		return models.CacheEntry{}, err
	}

	if expiresAt.Valid {
		entry.ExpiresAt = expiresAt.Time
	}
	return entry, nil
}

func escapeLikePattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
