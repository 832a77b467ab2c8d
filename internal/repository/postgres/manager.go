package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/opengovfood/opengovfood/internal/repository"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// Manager opens one pgx transaction per unit of work.
type Manager struct {
	db     *DB
	opts   pgx.TxOptions
	runner session.Runner
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIsolation sets the transaction isolation level.
func WithIsolation(level pgx.TxIsoLevel) ManagerOption {
	return func(m *Manager) { m.opts.IsoLevel = level }
}

// WithLogger sets the logger used for rollback failures.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.runner.Log = l }
}

// WithObserver receives every unit-of-work outcome (see session.Outcome*).
func WithObserver(fn func(outcome string)) ManagerOption {
	return func(m *Manager) { m.runner.Observe = fn }
}

// NewManager returns a Manager with read committed isolation unless overridden.
func NewManager(db *DB, opts ...ManagerOption) *Manager {
	m := &Manager{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTx runs fn inside a transaction.
func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, tx session.Tx) error) error {
	return m.runner.Run(ctx, m.begin, fn)
}

// Ping checks database reachability.
func (m *Manager) Ping(ctx context.Context) error { return m.db.Ping(ctx) }

func (m *Manager) begin(ctx context.Context) (session.Unit, error) {
	tx, err := m.db.Pool.BeginTx(ctx, m.opts)
	if err != nil {
		return nil, err
	}
	return &unit{tx: tx, users: NewUserRepo(tx), items: NewItemRepo(tx)}, nil
}

type unit struct {
	tx    pgx.Tx
	users *UserRepo
	items *ItemRepo
}

func (u *unit) Users() repository.UserRepository { return u.users }
func (u *unit) Items() repository.ItemRepository { return u.items }

func (u *unit) Commit(ctx context.Context) error { return u.tx.Commit(ctx) }

func (u *unit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// ParseIsolation maps a configuration value to a pgx isolation level.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " "))) {
	case "", "read committed":
		return pgx.ReadCommitted, nil
	case "repeatable read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("postgres: unsupported isolation level %q", s)
	}
}
