package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opengovfood/opengovfood/internal/repository"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// Manager opens one database/sql transaction per unit of work.
type Manager struct {
	db     *DB
	now    func() time.Time
	runner session.Runner
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for rollback failures.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.runner.Log = l }
}

// WithObserver receives every unit-of-work outcome (see session.Outcome*).
func WithObserver(fn func(outcome string)) ManagerOption {
	return func(m *Manager) { m.runner.Observe = fn }
}

// WithClock sets the time source for stored timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager over db.
func NewManager(db *DB, opts ...ManagerOption) *Manager {
	m := &Manager{db: db, now: time.Now}
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
	tx, err := m.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &unit{tx: tx, users: NewUserRepo(tx, m.now), items: NewItemRepo(tx, m.now)}, nil
}

type unit struct {
	tx    *sql.Tx
	users *UserRepo
	items *ItemRepo
}

func (u *unit) Users() repository.UserRepository { return u.users }
func (u *unit) Items() repository.ItemRepository { return u.items }

func (u *unit) Commit(context.Context) error { return u.tx.Commit() }

// Rollback ignores sql.ErrTxDone: database/sql already rolls back when the begin context ends.
func (u *unit) Rollback(context.Context) error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
