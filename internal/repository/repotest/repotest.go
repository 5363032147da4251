// Package repotest opens throwaway SQLite databases for tests of packages built on the repository.
package repotest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/repository"
)

// Open returns a migrated SQLite database that lives for the duration of the test.
func Open(t testing.TB) *repository.DB {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "docscan.db"), nil)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, nil))
	t.Cleanup(func() { repository.Close(db, nil) })
	return db
}
