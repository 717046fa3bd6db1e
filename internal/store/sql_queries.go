// SPDX-License-Identifier: Apache-2.0

package store

const (
	incrementRevision = `
		UPDATE store_meta
		SET value = value + 1
		WHERE key = 'revision';`

	getRevision = `
		SELECT value
		FROM store_meta
		WHERE key = 'revision';`

	upsertEntity = `
		INSERT INTO entities (
			collection,
			id,
			payload,
			dirty,
			corrupt,
			local_path,
			last_synced_at,
			updated_at
		) VALUES ($1, $2, $3, $4, FALSE, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, id) DO UPDATE SET
			payload        = excluded.payload,
			dirty          = excluded.dirty,
			corrupt        = FALSE,
			local_path     = excluded.local_path,
			last_synced_at = excluded.last_synced_at,
			updated_at     = CURRENT_TIMESTAMP;`

	getEntity = `
		SELECT
			collection,
			id,
			payload,
			dirty,
			corrupt,
			local_path,
			last_synced_at
		FROM entities
		WHERE collection = $1 AND id = $2;`

	deleteEntity = `
		DELETE FROM entities
		WHERE collection = $1 AND id = $2;`

	scanEntities = `
		SELECT
			collection,
			id,
			payload,
			dirty,
			corrupt,
			local_path,
			last_synced_at
		FROM entities
		WHERE collection = $1 AND corrupt = FALSE
		ORDER BY id;`

	quarantineEntity = `
		UPDATE entities
		SET corrupt = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE collection = $1 AND id = $2;`

	setEntityLocalPath = `
		UPDATE entities
		SET local_path = $1, updated_at = CURRENT_TIMESTAMP
		WHERE collection = $2 AND id = $3;`

	insertAction = `
		INSERT INTO actions (
			id,
			kind,
			target_key,
			payload,
			priority,
			created_at,
			retry_count,
			last_attempt_at,
			last_error,
			status
		) VALUES ($1, $2, $3, $4, $5, $6, 0, NULL, '', 'pending');`

	markActionAttempt = `
		UPDATE actions
		SET retry_count     = retry_count + 1,
		    last_attempt_at = $1,
		    last_error      = $2
		WHERE id = $3;`

	abandonAction = `
		UPDATE actions
		SET status = 'abandoned'
		WHERE id = $1;`

	deleteAction = `
		DELETE FROM actions
		WHERE id = $1;`

	countPendingActions = `
		SELECT COUNT(*)
		FROM actions
		WHERE status = 'pending';`

	upsertDownload = `
		INSERT INTO downloads (
			id,
			resource_key,
			source_url,
			local_path,
			quality,
			total_bytes,
			transferred_bytes,
			status,
			checksum,
			last_error,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			source_url        = excluded.source_url,
			local_path        = excluded.local_path,
			quality           = excluded.quality,
			total_bytes       = excluded.total_bytes,
			transferred_bytes = excluded.transferred_bytes,
			status            = excluded.status,
			checksum          = excluded.checksum,
			last_error        = excluded.last_error,
			updated_at        = excluded.updated_at;`

	updateDownloadProgress = `
		UPDATE downloads
		SET transferred_bytes = $1,
		    total_bytes       = $2,
		    updated_at        = $3
		WHERE id = $4;`

	// A transfer whose server never sent Content-Length completes with
	// total_bytes = 0 while transferred_bytes holds the real size, so the
	// sum takes the larger of the two per row.
	sumCompletedDownloadBytes = `
		SELECT COALESCE(SUM(MAX(total_bytes, transferred_bytes)), 0)
		FROM downloads
		WHERE status = 'completed';`

	upsertCacheEntry = `
		INSERT INTO cache_entries (
			key,
			payload,
			size_bytes,
			priority,
			last_accessed_at,
			expires_at,
			insert_seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			payload          = excluded.payload,
			size_bytes       = excluded.size_bytes,
			priority         = excluded.priority,
			last_accessed_at = excluded.last_accessed_at,
			expires_at       = excluded.expires_at,
			insert_seq       = excluded.insert_seq;`

	touchCacheEntry = `
		UPDATE cache_entries
		SET last_accessed_at = $1
		WHERE key = $2;`

	nextCacheSeq = `
		SELECT COALESCE(MAX(insert_seq), 0) + 1
		FROM cache_entries;`

	deleteExpiredCacheEntries = `
		DELETE FROM cache_entries
		WHERE expires_at IS NOT NULL AND expires_at <= $1;`

	deleteCacheEntriesByPrefix = `
		DELETE FROM cache_entries
		WHERE key LIKE $1 ESCAPE '\';`

	getSyncCursor = `
		SELECT collection, cursor, updated_at
		FROM sync_cursors
		WHERE collection = $1;`

	getAllSyncCursors = `
		SELECT collection, cursor, updated_at
		FROM sync_cursors
		ORDER BY collection;`

	upsertSyncCursor = `
		INSERT INTO sync_cursors (collection, cursor, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection) DO UPDATE SET
			cursor     = excluded.cursor,
			updated_at = excluded.updated_at;`

	resetSyncCursor = `
		DELETE FROM sync_cursors
		WHERE collection = $1;`
)
