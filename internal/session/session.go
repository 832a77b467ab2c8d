// Package session defines the unit-of-work contract shared by storage backends.
//
// A unit of work is one storage transaction scoped to a callback. It commits only when the
// callback returns nil and the request context is still live; every other exit (error, panic,
// cancellation) rolls back. Units do not nest: the callback's context is marked, and opening a
// second unit from it fails with errs.ErrNestedUnitOfWork.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/repository"
	"go.uber.org/zap"
)

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Users() repository.UserRepository
	Items() repository.ItemRepository
}

// Manager opens units of work.
type Manager interface {
	// WithTx runs fn inside a new unit of work and commits if fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Do runs fn in a unit of work and returns its value. The zero value is returned on failure.
func Do[T any](ctx context.Context, m Manager, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Unit is a begun backend transaction.
type Unit interface {
	Tx
	Commit(ctx context.Context) error
	// Rollback aborts the transaction. Implementations return nil if it is already closed.
	Rollback(ctx context.Context) error
}

// Outcomes reported to Runner.Observe.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeBeginFailed  = "begin_failed"
	OutcomeCommitFailed = "commit_failed"
	OutcomeNested       = "nested"
)

// DefaultRollbackTimeout bounds a rollback issued after the request context is gone.
const DefaultRollbackTimeout = 5 * time.Second

type activeKey struct{}

// Active reports whether ctx belongs to a running unit of work.
func Active(ctx context.Context) bool {
	v, _ := ctx.Value(activeKey{}).(bool)
	return v
}

// Runner implements the commit/rollback discipline for a backend's begin function.
type Runner struct {
	Log             *zap.Logger
	Observe         func(outcome string)
	RollbackTimeout time.Duration
}

func (r Runner) observe(outcome string) {
	if r.Observe != nil {
		r.Observe(outcome)
	}
}

func (r Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Run begins a unit with begin, runs fn on it and finishes it.
func (r Runner) Run(
	ctx context.Context,
	begin func(ctx context.Context) (Unit, error),
	fn func(ctx context.Context, tx Tx) error,
) (err error) {
	if Active(ctx) {
		r.observe(OutcomeNested)
		return errs.ErrNestedUnitOfWork
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	u, err := begin(ctx)
	if err != nil {
		r.observe(OutcomeBeginFailed)
		return fmt.Errorf("%w: begin: %w", errs.ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		timeout := r.RollbackTimeout
		if timeout <= 0 {
			timeout = DefaultRollbackTimeout
		}
		// The request context may already be cancelled; the rollback must still reach the backend.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if rbErr := u.Rollback(rctx); rbErr != nil {
			r.logger().Warn("rollback failed", zap.Error(rbErr))
		}
		r.observe(OutcomeRolledBack)
	}()

	uctx := context.WithValue(ctx, activeKey{}, true)
	if err = fn(uctx, u); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	// A failed commit leaves the backend transaction closed; no rollback follows it.
	committed = true
	if err = u.Commit(ctx); err != nil {
		r.observe(OutcomeCommitFailed)
		return fmt.Errorf("%w: commit: %w", errs.ErrTransactionFailed, err)
	}
	r.observe(OutcomeCommitted)
	return nil
}
