// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/opengovfood/opengovfood/migrations"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Dialect names a supported database family.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) goose() (goose.Dialect, string, error) {
	switch d {
	case Postgres:
		return goose.DialectPostgres, "postgres", nil
	case SQLite:
		return goose.DialectSQLite3, "sqlite", nil
	default:
		return "", "", fmt.Errorf("migrate: unsupported dialect %q", d)
	}
}

func provider(db *sql.DB, d Dialect) (*goose.Provider, error) {
	gd, dir, err := d.goose()
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(gd, db, sub)
}

// Up runs all pending migrations for dialect on db.
func Up(ctx context.Context, db *sql.DB, d Dialect, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	p, err := provider(db, d)
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	for _, r := range results {
		log.Info("migration applied",
			zap.String("dialect", string(d)),
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}

// UpPostgres opens dsn through the pgx stdlib driver and runs Up.
func UpPostgres(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return Up(ctx, db, Postgres, log)
}

// Version reports the current schema version.
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	p, err := provider(db, d)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
