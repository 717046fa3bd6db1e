// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"coursesync/internal/config"
	"coursesync/internal/logger"
)

// newTestStorages opens a throwaway sqlite database under t.TempDir and
// returns the fully wired storage layer.
func newTestStorages(t *testing.T) *Storages {
	t.Helper()

	cfg := config.Storage{
		DBPath: filepath.Join(t.TempDir(), "coursesync-test.db"),
	}

	storages, err := NewStorages(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { storages.Close() })

	return storages
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &DB{DB: db, logger: logger.Nop()}, mock
}

func testContext() context.Context {
	l := zerolog.Nop()
	return l.WithContext(context.Background())
}

// execRaw runs arbitrary SQL against the test database, bypassing the
// repositories. Used to seed malformed rows.
func execRaw(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}
