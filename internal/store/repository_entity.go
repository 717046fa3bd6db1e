// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coursesync/internal/app"
	"coursesync/internal/logger"
	"coursesync/models"
)

// entityRepository is the sqlite-backed implementation of
// [EntityRepository]. All mutations bump the store revision counter inside
// the same transaction as the data change.
type entityRepository struct {
	*DB
	logger *logger.Logger
}

// NewEntityRepository constructs an [EntityRepository] backed by the
// provided database connection and logger.
func NewEntityRepository(db *DB, logger *logger.Logger) EntityRepository {
	return &entityRepository{
		DB:     db,
		logger: logger,
	}
}

// Put implements EntityRepository. The upsert and the revision bump share
// one transaction so readers never observe a record without a revision
// advance.
func (r *entityRepository) Put(ctx context.Context, entity models.Entity) error {
	return r.Transact(ctx, []TxOp{{Kind: TxPut, Entity: &entity}})
}

// Get implements EntityRepository.
//
// A stored payload that is no longer valid JSON is quarantined (marked
// corrupt so scans skip it and the next pull overwrites it) and reported
// as app.ErrCorruptLocalState. The failure is scoped to the one record.
func (r *entityRepository) Get(ctx context.Context, key models.EntityKey) (models.Entity, error) {
	log := logger.FromContext(ctx)

	entity, corrupt, err := scanEntityRow(r.DB.QueryRowContext(ctx, getEntity, key.Collection, key.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, fmt.Errorf("%w: entity %s", app.ErrNotFound, key)
		}
		log.Err(err).
			Str("func", "entityRepository.Get").
			Str("key", key.String()).
			Msg("failed to read entity row")
		return models.Entity{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	if corrupt || !json.Valid(entity.Payload) {
		if !corrupt {
			if _, qErr := r.DB.ExecContext(ctx, quarantineEntity, key.Collection, key.ID); qErr != nil {
				log.Err(qErr).
					Str("func", "entityRepository.Get").
					Str("key", key.String()).
					Msg("failed to quarantine corrupt entity")
			}
		}
		log.Warn().
			Str("func", "entityRepository.Get").
			Str("key", key.String()).
			Msg("entity payload is corrupt, record quarantined")
		return models.Entity{}, fmt.Errorf("%w: entity %s", app.ErrCorruptLocalState, key)
	}

	return entity, nil
}

// Delete implements EntityRepository.
func (r *entityRepository) Delete(ctx context.Context, key models.EntityKey) error {
	return r.Transact(ctx, []TxOp{{Kind: TxDelete, Key: key}})
}

// Scan implements EntityRepository. Quarantined rows are excluded by the
// query; rows whose payload fails JSON validation are quarantined on the
// fly and skipped.
func (r *entityRepository) Scan(ctx context.Context, collection string, predicate func(models.Entity) bool) ([]models.Entity, error) {
	log := logger.FromContext(ctx)

	rows, err := r.DB.QueryContext(ctx, scanEntities, collection)
	if err != nil {
		log.Err(err).
			Str("func", "entityRepository.Scan").
			Str("collection", collection).
			Msg("failed to execute scan query")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	results := make([]models.Entity, 0, 50)
	var quarantine []models.EntityKey

	for rows.Next() {
		entity, _, scanErr := scanEntityRow(rows)
		if scanErr != nil {
			log.Err(scanErr).
				Str("func", "entityRepository.Scan").
				Str("collection", collection).
				Msg("failed to scan entity row")
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, scanErr)
		}

		if !json.Valid(entity.Payload) {
			quarantine = append(quarantine, entity.Key)
			continue
		}

		if predicate == nil || predicate(entity) {
			results = append(results, entity)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		log.Err(rowsErr).
			Str("func", "entityRepository.Scan").
			Str("collection", collection).
			Msg("error occurred during rows iteration")
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}

	for _, key := range quarantine {
		if _, qErr := r.DB.ExecContext(ctx, quarantineEntity, key.Collection, key.ID); qErr != nil {
			log.Err(qErr).
				Str("func", "entityRepository.Scan").
				Str("key", key.String()).
				Msg("failed to quarantine corrupt entity")
		}
	}

	return results, nil
}

// Transact implements EntityRepository. All ops run inside one
// transaction; the revision counter is bumped once per mutating op.
func (r *entityRepository) Transact(ctx context.Context, ops []TxOp) error {
	log := logger.FromContext(ctx)

	if len(ops) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Err(err).
			Str("func", "entityRepository.Transact").
			Int("ops_count", len(ops)).
			Msg("failed to begin transaction")
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for idx, op := range ops {
		if err = applyTxOp(ctx, tx, op); err != nil {
			log.Err(err).
				Str("func", "entityRepository.Transact").
				Int("iteration", idx+1).
				Int("total", len(ops)).
				Msg("failed to apply operation in transaction")
			return err
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		log.Err(commitErr).
			Str("func", "entityRepository.Transact").
			Int("ops_count", len(ops)).
			Msg("failed to commit transaction")
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, commitErr)
	}

	return nil
}

// SetLocalPath implements EntityRepository.
func (r *entityRepository) SetLocalPath(ctx context.Context, key models.EntityKey, localPath string) error {
	log := logger.FromContext(ctx)

	result, err := r.DB.ExecContext(ctx, setEntityLocalPath, localPath, key.Collection, key.ID)
	if err != nil {
		log.Err(err).
			Str("func", "entityRepository.SetLocalPath").
			Str("key", key.String()).
			Msg("failed to set entity local path")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entity %s", app.ErrNotFound, key)
	}

	return nil
}

// Revision implements EntityRepository.
func (r *entityRepository) Revision(ctx context.Context) (int64, error) {
	var revision int64
	if err := r.DB.QueryRowContext(ctx, getRevision).Scan(&revision); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return revision, nil
}

func applyTxOp(ctx context.Context, tx *sql.Tx, op TxOp) error {
	switch op.Kind {
	case TxPut:
		if op.Entity == nil {
			return fmt.Errorf("%w: put op without entity", ErrExecutingQuery)
		}
		var syncedAt any
		if !op.Entity.LastSyncedAt.IsZero() {
			syncedAt = op.Entity.LastSyncedAt
		}
		if _, err := tx.ExecContext(ctx, upsertEntity,
			op.Entity.Key.Collection,
			op.Entity.Key.ID,
			[]byte(op.Entity.Payload),
			op.Entity.Dirty,
			op.Entity.LocalPath,
			syncedAt,
		); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
		if _, err := tx.ExecContext(ctx, incrementRevision); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}

	case TxDelete:
		if _, err := tx.ExecContext(ctx, deleteEntity, op.Key.Collection, op.Key.ID); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
		if _, err := tx.ExecContext(ctx, incrementRevision); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}

	case TxSetCursor:
		if op.Cursor == nil {
			return fmt.Errorf("%w: cursor op without cursor", ErrExecutingQuery)
		}
		if _, err := tx.ExecContext(ctx, upsertSyncCursor,
			op.Cursor.Collection,
			op.Cursor.Cursor,
			op.Cursor.UpdatedAt,
		); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}

	default:
		return fmt.Errorf("%w: unknown tx op kind %d", ErrExecutingQuery, op.Kind)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(row rowScanner) (models.Entity, bool, error) {
	var (
		entity   models.Entity
		payload  []byte
		corrupt  bool
		syncedAt sql.NullTime
	)

	err := row.Scan(
		&entity.Key.Collection,
		&entity.Key.ID,
		&payload,
		&entity.Dirty,
		&corrupt,
		&entity.LocalPath,
		&syncedAt,
	)
	if err != nil {
		return models.Entity{}, false, err
	}

	entity.Payload = json.RawMessage(payload)
	if syncedAt.Valid {
		entity.LastSyncedAt = syncedAt.Time.UTC()
	} else {
		entity.LastSyncedAt = time.Time{}
	}

	return entity, corrupt, nil
}
