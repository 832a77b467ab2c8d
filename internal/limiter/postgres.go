package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed fixed-window limiter shared by every server process using the same
// database. Each attempt is a single upsert, so the row lock serializes concurrent attempts.
type PG struct {
	pool pgxQuerier
	cfg  Config
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool (or any pgx querier).
func NewPG(q pgxQuerier, cfg Config) (*PG, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PG{pool: q, cfg: cfg}, nil
}

// Admit records an attempt for origin.
func (l *PG) Admit(ctx context.Context, origin string) (bool, time.Duration, error) {
	const q = `
INSERT INTO login_attempts (origin_hash, attempts, window_start)
VALUES ($1, 1, now())
ON CONFLICT (origin_hash) DO UPDATE
SET
  attempts = CASE WHEN login_attempts.window_start + $2::interval <= now()
                  THEN 1 ELSE login_attempts.attempts + 1 END,
  window_start = CASE WHEN login_attempts.window_start + $2::interval <= now()
                      THEN now() ELSE login_attempts.window_start END
RETURNING attempts,
  GREATEST(0, CEIL(EXTRACT(EPOCH FROM (window_start + $2::interval - now())) * 1000))::bigint`
	var (
		attempts int
		retryMS  int64
	)
	if err := l.pool.QueryRow(ctx, q, HashOrigin(origin), l.cfg.Window).Scan(&attempts, &retryMS); err != nil {
		return false, 0, fmt.Errorf("limiter: admit: %w", err)
	}
	if attempts > l.cfg.Threshold {
		return false, time.Duration(retryMS) * time.Millisecond, nil
	}
	return true, 0, nil
}

// Reset forgets origin's window.
func (l *PG) Reset(ctx context.Context, origin string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM login_attempts WHERE origin_hash=$1`, HashOrigin(origin)); err != nil {
		return fmt.Errorf("limiter: reset: %w", err)
	}
	return nil
}

// Prune deletes windows that have elapsed.
func (l *PG) Prune(ctx context.Context) (int64, error) {
	const q = `DELETE FROM login_attempts WHERE window_start + $1::interval <= now()`
	tag, err := l.pool.Exec(ctx, q, l.cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("limiter: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
