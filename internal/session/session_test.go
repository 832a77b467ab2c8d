package session

import (
	"context"
	"errors"
	"testing"

	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/repository"
)

type fakeUnit struct {
	commitErr   error
	rollbackErr error

	commits   int
	rollbacks int
	rbCtxErr  error
}

func (u *fakeUnit) Users() repository.UserRepository { return nil }
func (u *fakeUnit) Items() repository.ItemRepository { return nil }

func (u *fakeUnit) Commit(context.Context) error {
	u.commits++
	return u.commitErr
}

func (u *fakeUnit) Rollback(ctx context.Context) error {
	u.rollbacks++
	u.rbCtxErr = ctx.Err()
	return u.rollbackErr
}

type fakeManager struct {
	r    Runner
	unit *fakeUnit
}

func (m *fakeManager) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return m.r.Run(ctx, func(context.Context) (Unit, error) { return m.unit, nil }, fn)
}

func newRunner(outcomes *[]string) Runner {
	return Runner{Observe: func(o string) { *outcomes = append(*outcomes, o) }}
}

func TestRun_CommitsOnSuccess(t *testing.T) {
	t.Parallel()
	var seen []string
	u := &fakeUnit{}
	err := newRunner(&seen).Run(context.Background(),
		func(context.Context) (Unit, error) { return u, nil },
		func(ctx context.Context, tx Tx) error {
			if !Active(ctx) {
				t.Fatalf("callback context must be marked active")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if u.commits != 1 || u.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", u.commits, u.rollbacks)
	}
	if len(seen) != 1 || seen[0] != OutcomeCommitted {
		t.Fatalf("outcomes=%v", seen)
	}
}

func TestRun_RollsBackOnError(t *testing.T) {
	t.Parallel()
	var seen []string
	u := &fakeUnit{}
	boom := errors.New("boom")
	err := newRunner(&seen).Run(context.Background(),
		func(context.Context) (Unit, error) { return u, nil },
		func(context.Context, Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	if u.commits != 0 || u.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", u.commits, u.rollbacks)
	}
	if len(seen) != 1 || seen[0] != OutcomeRolledBack {
		t.Fatalf("outcomes=%v", seen)
	}
}

func TestRun_RollsBackOnPanicAndRepanics(t *testing.T) {
	t.Parallel()
	var seen []string
	u := &fakeUnit{}
	defer func() {
		if r := recover(); r != "kaboom" {
			t.Fatalf("recovered %v, want kaboom", r)
		}
		if u.rollbacks != 1 || u.commits != 0 {
			t.Fatalf("commits=%d rollbacks=%d", u.commits, u.rollbacks)
		}
	}()
	_ = newRunner(&seen).Run(context.Background(),
		func(context.Context) (Unit, error) { return u, nil },
		func(context.Context, Tx) error { panic("kaboom") })
	t.Fatalf("panic was swallowed")
}

func TestRun_RollsBackOnCancellation(t *testing.T) {
	t.Parallel()
	var seen []string
	u := &fakeUnit{}
	ctx, cancel := context.WithCancel(context.Background())
	err := newRunner(&seen).Run(ctx,
		func(context.Context) (Unit, error) { return u, nil },
		func(context.Context, Tx) error {
			cancel() // client went away while the work ran
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if u.commits != 0 || u.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", u.commits, u.rollbacks)
	}
	if u.rbCtxErr != nil {
		t.Fatalf("rollback must get a live context, got %v", u.rbCtxErr)
	}
}

func TestRun_CancelledBeforeBegin(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	began := false
	err := Runner{}.Run(ctx,
		func(context.Context) (Unit, error) { began = true; return &fakeUnit{}, nil },
		func(context.Context, Tx) error { return nil })
	if !errors.Is(err, context.Canceled) || began {
		t.Fatalf("err=%v began=%v", err, began)
	}
}

func TestRun_BeginFailure(t *testing.T) {
	t.Parallel()
	var seen []string
	called := false
	err := newRunner(&seen).Run(context.Background(),
		func(context.Context) (Unit, error) { return nil, errors.New("dial tcp: refused") },
		func(context.Context, Tx) error { called = true; return nil })
	if !errors.Is(err, errs.ErrTransactionFailed) {
		t.Fatalf("err=%v, want ErrTransactionFailed", err)
	}
	if called {
		t.Fatalf("callback must not run without a unit")
	}
	if len(seen) != 1 || seen[0] != OutcomeBeginFailed {
		t.Fatalf("outcomes=%v", seen)
	}
}

func TestRun_CommitFailure(t *testing.T) {
	t.Parallel()
	var seen []string
	u := &fakeUnit{commitErr: errors.New("serialization failure")}
	err := newRunner(&seen).Run(context.Background(),
		func(context.Context) (Unit, error) { return u, nil },
		func(context.Context, Tx) error { return nil })
	if !errors.Is(err, errs.ErrTransactionFailed) {
		t.Fatalf("err=%v, want ErrTransactionFailed", err)
	}
	if u.rollbacks != 0 {
		t.Fatalf("no rollback after a failed commit, got %d", u.rollbacks)
	}
	if len(seen) != 1 || seen[0] != OutcomeCommitFailed {
		t.Fatalf("outcomes=%v", seen)
	}
}

func TestRun_RollbackErrorDoesNotMaskCause(t *testing.T) {
	t.Parallel()
	u := &fakeUnit{rollbackErr: errors.New("conn closed")}
	boom := errors.New("boom")
	err := Runner{}.Run(context.Background(),
		func(context.Context) (Unit, error) { return u, nil },
		func(context.Context, Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
}

func TestWithTx_NestingRejected(t *testing.T) {
	t.Parallel()
	var seen []string
	m := &fakeManager{r: newRunner(&seen), unit: &fakeUnit{}}

	var inner error
	err := m.WithTx(context.Background(), func(ctx context.Context, _ Tx) error {
		inner = m.WithTx(ctx, func(context.Context, Tx) error { return nil })
		return inner
	})
	if !errors.Is(inner, errs.ErrNestedUnitOfWork) {
		t.Fatalf("inner=%v, want ErrNestedUnitOfWork", inner)
	}
	if !errors.Is(err, errs.ErrNestedUnitOfWork) {
		t.Fatalf("outer=%v", err)
	}
	if m.unit.commits != 0 || m.unit.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", m.unit.commits, m.unit.rollbacks)
	}
}

func TestDo_ReturnsValueOrZero(t *testing.T) {
	t.Parallel()
	m := &fakeManager{unit: &fakeUnit{}}

	v, err := Do(context.Background(), m, func(context.Context, Tx) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}

	m2 := &fakeManager{unit: &fakeUnit{commitErr: errors.New("x")}}
	v, err = Do(context.Background(), m2, func(context.Context, Tx) (int, error) { return 7, nil })
	if err == nil || v != 0 {
		t.Fatalf("v=%d err=%v, want zero value on commit failure", v, err)
	}
}
