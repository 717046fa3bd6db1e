// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"coursesync/internal/config"
	"coursesync/internal/logger"
)

// Storages groups every local repository into a single value that can be
// passed around the engine layer. All repositories share one sqlite
// connection.
type Storages struct {
	// Entities is the durable typed store for domain records.
	Entities EntityRepository

	// Actions is the offline action log.
	Actions ActionRepository

	// Downloads is the durable download task registry.
	Downloads DownloadRepository

	// Cache is the bounded response cache.
	Cache CacheRepository

	// Cursors holds per-collection sync watermarks.
	Cursors CursorRepository

	db *DB
}

// NewStorages initialises the local storage layer using the supplied
// configuration and logger. It opens an SQLite connection to cfg.DBPath,
// creating the database file if it does not yet exist, runs pending schema
// migrations, and wires every repository to the shared connection.
func NewStorages(ctx context.Context, cfg config.Storage, logger *logger.Logger) (*Storages, error) {
	logger.Info().Msg("creating local storages...")

	db, err := NewConnectSQLite(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sqlite connection error: %w", err)
	}

	return &Storages{
		Entities:  NewEntityRepository(db, logger),
		Actions:   NewActionRepository(db, logger),
		Downloads: NewDownloadRepository(db, logger),
		Cache:     NewCacheRepository(db, logger),
		Cursors:   NewCursorRepository(db, logger),
		db:        db,
	}, nil
}

// Close releases the underlying database connection.
func (s *Storages) Close() error {
	return s.db.Close()
}
