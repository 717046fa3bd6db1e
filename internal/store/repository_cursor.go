// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coursesync/internal/logger"
	"coursesync/models"
)

// cursorRepository is the sqlite-backed implementation of [CursorRepository].
type cursorRepository struct {
	*DB
	logger *logger.Logger
}

// NewCursorRepository constructs a [CursorRepository] backed by the
// provided database connection and logger.
func NewCursorRepository(db *DB, logger *logger.Logger) CursorRepository {
	return &cursorRepository{
		DB:     db,
		logger: logger,
	}
}

// Get implements CursorRepository.
func (r *cursorRepository) Get(ctx context.Context, collection string) (models.SyncCursor, error) {
	log := logger.FromContext(ctx)

	var cursor models.SyncCursor
	err := r.DB.QueryRowContext(ctx, getSyncCursor, collection).
		Scan(&cursor.Collection, &cursor.Cursor, &cursor.UpdatedAt)
	if err != nil {
		// A collection never pulled before starts from an empty cursor.
		if errors.Is(err, sql.ErrNoRows) {
			return models.SyncCursor{Collection: collection}, nil
		}
		log.Err(err).
			Str("func", "cursorRepository.Get").
			Str("collection", collection).
			Msg("failed to scan sync cursor row")
		return models.SyncCursor{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return cursor, nil
}

// All implements CursorRepository.
func (r *cursorRepository) All(ctx context.Context) ([]models.SyncCursor, error) {
	log := logger.FromContext(ctx)

	rows, err := r.DB.QueryContext(ctx, getAllSyncCursors)
	if err != nil {
		log.Err(err).
			Str("func", "cursorRepository.All").
			Msg("failed to query sync cursors")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	cursors := make([]models.SyncCursor, 0, 4)
	for rows.Next() {
		var cursor models.SyncCursor
		if scanErr := rows.Scan(&cursor.Collection, &cursor.Cursor, &cursor.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		cursors = append(cursors, cursor)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return cursors, nil
}

// Reset implements CursorRepository.
func (r *cursorRepository) Reset(ctx context.Context, collection string) error {
	log := logger.FromContext(ctx)

	if _, err := r.DB.ExecContext(ctx, resetSyncCursor, collection); err != nil {
		log.Err(err).
			Str("func", "cursorRepository.Reset").
			Str("collection", collection).
			Msg("failed to reset sync cursor")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	log.Info().
		Str("func", "cursorRepository.Reset").
		Str("collection", collection).
		Msg("sync cursor reset, next sync will pull from scratch")

	return nil
}
