// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"coursesync/internal/app"
	"coursesync/internal/logger"
	"coursesync/models"
)

// downloadRepository is the sqlite-backed implementation of
// [DownloadRepository]. The downloads table is the durable task registry
// that survives process restarts so interrupted transfers can be resumed.
type downloadRepository struct {
	*DB
	logger *logger.Logger
}

// NewDownloadRepository constructs a [DownloadRepository] backed by the
// provided database connection and logger.
func NewDownloadRepository(db *DB, logger *logger.Logger) DownloadRepository {
	return &downloadRepository{
		DB:     db,
		logger: logger,
	}
}

// Upsert implements DownloadRepository.
func (r *downloadRepository) Upsert(ctx context.Context, task models.DownloadTask) error {
	log := logger.FromContext(ctx)

	_, err := r.DB.ExecContext(ctx, upsertDownload,
		task.ID,
		task.ResourceKey,
		task.SourceURL,
		task.LocalPath,
		task.Quality,
		task.TotalBytes,
		task.TransferredBytes,
		string(task.Status),
		task.Checksum,
		task.LastError,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Err(err).
			Str("func", "downloadRepository.Upsert").
			Str("task_id", task.ID).
			Str("resource_key", task.ResourceKey).
			Msg("failed to upsert download task")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// GetByID implements DownloadRepository.
func (r *downloadRepository) GetByID(ctx context.Context, id string) (models.DownloadTask, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

// GetByResourceKey implements DownloadRepository.
func (r *downloadRepository) GetByResourceKey(ctx context.Context, resourceKey string) (models.DownloadTask, error) {
	return r.getOne(ctx, sq.Eq{"resource_key": resourceKey})
}

func (r *downloadRepository) getOne(ctx context.Context, where sq.Eq) (models.DownloadTask, error) {
	log := logger.FromContext(ctx)

	query, args, err := downloadSelect().Where(where).ToSql()
	if err != nil {
		return models.DownloadTask{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	task, err := scanDownloadRow(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DownloadTask{}, fmt.Errorf("%w: download task", app.ErrNotFound)
		}
		log.Err(err).
			Str("func", "downloadRepository.getOne").
			Msg("failed to scan download task row")
		return models.DownloadTask{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return task, nil
}

// UpdateProgress implements DownloadRepository.
func (r *downloadRepository) UpdateProgress(ctx context.Context, id string, transferred, total int64) error {
	log := logger.FromContext(ctx)

	if _, err := r.DB.ExecContext(ctx, updateDownloadProgress, transferred, total, time.Now().UTC(), id); err != nil {
		log.Err(err).
			Str("func", "downloadRepository.UpdateProgress").
			Str("task_id", id).
			Msg("failed to persist download progress")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// List implements DownloadRepository.
func (r *downloadRepository) List(ctx context.Context) ([]models.DownloadTask, error) {
	log := logger.FromContext(ctx)

	query, args, err := downloadSelect().OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "downloadRepository.List").
			Msg("failed to execute query for listing download tasks")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	tasks := make([]models.DownloadTask, 0, 20)
	for rows.Next() {
		task, scanErr := scanDownloadRow(rows)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "downloadRepository.List").
				Msg("failed to scan download task row")
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		tasks = append(tasks, task)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		log.Err(rowsErr).
			Str("func", "downloadRepository.List").
			Msg("error occurred during rows iteration")
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return tasks, nil
}

// CompletedBytes implements DownloadRepository.
func (r *downloadRepository) CompletedBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := r.DB.QueryRowContext(ctx, sumCompletedDownloadBytes).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return total, nil
}

// DeleteCompletedBefore implements DownloadRepository. The removed tasks
// are returned so the caller can delete their on-disk artifacts as well.
func (r *downloadRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) ([]models.DownloadTask, error) {
	log := logger.FromContext(ctx)

	query, args, err := downloadSelect().
		Where(sq.Eq{"status": string(models.DownloadCompleted)}).
		Where(sq.Lt{"updated_at": cutoff}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "downloadRepository.DeleteCompletedBefore").
			Msg("failed to select stale completed downloads")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	stale := make([]models.DownloadTask, 0, 10)
	for rows.Next() {
		task, scanErr := scanDownloadRow(rows)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}
		stale = append(stale, task)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}
	rows.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stale))
	for _, task := range stale {
		ids = append(ids, task.ID)
	}

	delQuery, delArgs, err := sq.Delete("downloads").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	if _, err = r.DB.ExecContext(ctx, delQuery, delArgs...); err != nil {
		log.Err(err).
			Str("func", "downloadRepository.DeleteCompletedBefore").
			Int("count", len(ids)).
			Msg("failed to delete stale completed downloads")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	log.Info().
		Str("func", "downloadRepository.DeleteCompletedBefore").
		Int("count", len(ids)).
		Msg("removed stale completed download tasks")

	return stale, nil
}

func downloadSelect() sq.SelectBuilder {
	return sq.Select(
		"id", "resource_key", "source_url", "local_path", "quality",
		"total_bytes", "transferred_bytes", "status", "checksum",
		"last_error", "created_at", "updated_at",
	).From("downloads")
}

func scanDownloadRow(row rowScanner) (models.DownloadTask, error) {
	var task models.DownloadTask
	var status string

	err := row.Scan(
		&task.ID,
		&task.ResourceKey,
		&task.SourceURL,
		&task.LocalPath,
		&task.Quality,
		&task.TotalBytes,
		&task.TransferredBytes,
		&status,
		&task.Checksum,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return models.DownloadTask{}, err
	}

	task.Status = models.DownloadStatus(status)
	return task, nil
}
