package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"
)

func TestUp_SQLite_IdempotentAndVersioned(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, Up(ctx, db, SQLite, zaptest.NewLogger(t)))
	require.NoError(t, Up(ctx, db, SQLite, nil))

	v, err := Version(ctx, db, SQLite)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name IN ('users','items')`).Scan(&n))
	require.Equal(t, 2, n)
}

func TestUp_UnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	require.Error(t, Up(context.Background(), db, Dialect("oracle"), nil))
}
