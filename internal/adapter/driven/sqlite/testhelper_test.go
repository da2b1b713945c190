package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB opens a credential database in a per-test temporary directory
// through NewDB, so tests run with the same WAL and pragma settings as the
// server, and applies the migrations.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "credvault.db"))
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { _ = db.Close() })

	version, err := RunMigrations(db.Writer)
	require.NoError(t, err, "run migrations")
	require.NotZero(t, version)

	return db
}
