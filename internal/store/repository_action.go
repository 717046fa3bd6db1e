// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"coursesync/internal/logger"
	"coursesync/models"
)

// actionRepository is the sqlite-backed implementation of
// [ActionRepository]. The actions table is an append-mostly log: rows are
// deleted on successful apply and flipped to "abandoned" when the retry
// budget runs out.
type actionRepository struct {
	*DB
	logger *logger.Logger
}

// NewActionRepository constructs an [ActionRepository] backed by the
// provided database connection and logger.
func NewActionRepository(db *DB, logger *logger.Logger) ActionRepository {
	return &actionRepository{
		DB:     db,
		logger: logger,
	}
}

// Insert implements ActionRepository.
func (r *actionRepository) Insert(ctx context.Context, action models.Action) error {
	log := logger.FromContext(ctx)

	_, err := r.DB.ExecContext(ctx, insertAction,
		action.ID,
		action.Kind,
		action.TargetKey,
		[]byte(action.Payload),
		action.Priority,
		action.CreatedAt,
	)
	if err != nil {
		log.Err(err).
			Str("func", "actionRepository.Insert").
			Str("action_id", action.ID).
			Str("target_key", action.TargetKey).
			Msg("failed to insert action")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// Pending implements ActionRepository. Ordering by created_at (with id as
// a stable tie-breaker) is what gives the queue its FIFO-per-key
// guarantee downstream.
func (r *actionRepository) Pending(ctx context.Context) ([]models.Action, error) {
	return r.listByStatus(ctx, models.ActionPending)
}

// Abandoned implements ActionRepository.
func (r *actionRepository) Abandoned(ctx context.Context) ([]models.Action, error) {
	return r.listByStatus(ctx, models.ActionAbandoned)
}

func (r *actionRepository) listByStatus(ctx context.Context, status models.ActionStatus) ([]models.Action, error) {
	log := logger.FromContext(ctx)

	query, args, err := sq.Select(
		"id", "kind", "target_key", "payload", "priority",
		"created_at", "retry_count", "last_attempt_at", "last_error", "status",
	).
		From("actions").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "actionRepository.listByStatus").
			Str("status", string(status)).
			Msg("failed to execute query for listing actions")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	actions := make([]models.Action, 0, 50)

	for rows.Next() {
		var (
			action    models.Action
			payload   []byte
			attemptAt sql.NullTime
		)

		scanErr := rows.Scan(
			&action.ID,
			&action.Kind,
			&action.TargetKey,
			&payload,
			&action.Priority,
			&action.CreatedAt,
			&action.RetryCount,
			&attemptAt,
			&action.LastError,
			&action.Status,
		)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "actionRepository.listByStatus").
				Str("status", string(status)).
				Msg("failed to scan action row")
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		action.Payload = payload
		if attemptAt.Valid {
			t := attemptAt.Time.UTC()
			action.LastAttemptAt = &t
		}

		actions = append(actions, action)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		log.Err(rowsErr).
			Str("func", "actionRepository.listByStatus").
			Str("status", string(status)).
			Msg("error occurred during rows iteration")
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	return actions, nil
}

// PendingCount implements ActionRepository.
func (r *actionRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx, countPendingActions).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return count, nil
}

// MarkAttempt implements ActionRepository.
func (r *actionRepository) MarkAttempt(ctx context.Context, id string, attemptAt time.Time, lastError string) error {
	log := logger.FromContext(ctx)

	if _, err := r.DB.ExecContext(ctx, markActionAttempt, attemptAt, lastError, id); err != nil {
		log.Err(err).
			Str("func", "actionRepository.MarkAttempt").
			Str("action_id", id).
			Msg("failed to record action attempt")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}

// Abandon implements ActionRepository.
func (r *actionRepository) Abandon(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	if _, err := r.DB.ExecContext(ctx, abandonAction, id); err != nil {
		log.Err(err).
			Str("func", "actionRepository.Abandon").
			Str("action_id", id).
			Msg("failed to abandon action")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	log.Warn().
		Str("func", "actionRepository.Abandon").
		Str("action_id", id).
		Msg("action moved to abandoned state")

	return nil
}

// Delete implements ActionRepository.
func (r *actionRepository) Delete(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	if _, err := r.DB.ExecContext(ctx, deleteAction, id); err != nil {
		log.Err(err).
			Str("func", "actionRepository.Delete").
			Str("action_id", id).
			Msg("failed to delete action")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}
