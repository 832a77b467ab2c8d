package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "ogf.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustUser(t *testing.T, m *Manager, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "h", IsActive: true}
	require.NoError(t, m.WithTx(context.Background(), func(ctx context.Context, tx session.Tx) error {
		return tx.Users().Create(ctx, u)
	}))
	return u
}

func countItems(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.SQL.QueryRow(`SELECT count(*) FROM items`).Scan(&n))
	return n
}

func TestUsers_CreateGetDuplicate(t *testing.T) {
	m := NewManager(openTemp(t))
	ctx := context.Background()
	u := mustUser(t, m, "a@x.com")
	require.NotEqual(t, uuid.Nil, u.ID)

	got, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) (*model.User, error) {
		return tx.Users().GetByEmail(ctx, "a@x.com")
	})
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.True(t, got.IsActive)

	err = m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		return tx.Users().Create(ctx, &model.User{Email: "a@x.com", PasswordHash: "h"})
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	err = m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		_, err := tx.Users().GetByID(ctx, uuid.Must(uuid.NewV4()))
		return err
	})
	require.ErrorIs(t, err, errs.ErrNotFound)

	n, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) (int64, error) {
		return tx.Users().Count(ctx)
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestUsers_UpdatedAtStrictlyIncreases(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	m := NewManager(openTemp(t), WithClock(func() time.Time { return frozen }))
	ctx := context.Background()
	u := mustUser(t, m, "a@x.com")

	prev := u.UpdatedAt
	for i := 0; i < 3; i++ {
		require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
			if err := tx.Users().SetActive(ctx, u.ID, i%2 == 0); err != nil {
				return err
			}
			return tx.Users().UpdatePasswordHash(ctx, u.ID, fmt.Sprintf("h%d", i))
		}))
		got, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) (*model.User, error) {
			return tx.Users().GetByID(ctx, u.ID)
		})
		require.NoError(t, err)
		require.True(t, got.UpdatedAt.After(prev), "updated_at must increase with a frozen clock")
		prev = got.UpdatedAt
	}

	err := m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		return tx.Users().SetActive(ctx, uuid.Must(uuid.NewV4()), true)
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestItems_CRUDAndOwnership(t *testing.T) {
	db := openTemp(t)
	m := NewManager(db)
	ctx := context.Background()
	a := mustUser(t, m, "a@x.com")
	b := mustUser(t, m, "b@x.com")

	var first *model.Item
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		for i, st := range []model.ItemStatus{"", model.ItemCompleted, model.ItemCompleted} {
			it := &model.Item{OwnerID: a.ID, Title: fmt.Sprintf("a%d", i), Status: st}
			if err := tx.Items().Create(ctx, it); err != nil {
				return err
			}
			if first == nil {
				first = it
			}
		}
		return tx.Items().Create(ctx, &model.Item{OwnerID: b.ID, Title: "b0"})
	}))
	require.Equal(t, model.ItemPending, first.Status)

	err := m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		return tx.Items().Create(ctx, &model.Item{OwnerID: uuid.Must(uuid.NewV4()), Title: "orphan"})
	})
	require.ErrorIs(t, err, errs.ErrNotFound, "foreign keys must be enforced")

	items, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) ([]model.Item, error) {
		return tx.Items().List(ctx, a.ID, model.ItemFilter{Limit: 100})
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		require.Equal(t, a.ID, it.OwnerID)
	}

	items, err = session.Do(ctx, m, func(ctx context.Context, tx session.Tx) ([]model.Item, error) {
		return tx.Items().List(ctx, a.ID, model.ItemFilter{Status: model.ItemCompleted, Skip: 1, Limit: 10})
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "a2", items[0].Title)

	owner, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) (uuid.UUID, error) {
		return tx.Items().OwnerOf(ctx, first.ID)
	})
	require.NoError(t, err)
	require.Equal(t, a.ID, owner)

	title := "renamed"
	st := model.ItemInProgress
	upd, err := session.Do(ctx, m, func(ctx context.Context, tx session.Tx) (*model.Item, error) {
		return tx.Items().Update(ctx, first.ID, model.ItemPatch{Title: &title, Status: &st})
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", upd.Title)
	require.Equal(t, model.ItemInProgress, upd.Status)
	require.Equal(t, a.ID, upd.OwnerID)
	require.True(t, upd.UpdatedAt.After(first.UpdatedAt))

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		return tx.Items().Delete(ctx, first.ID)
	}))
	err = m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		_, err := tx.Items().OwnerOf(ctx, first.ID)
		return err
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 3, countItems(t, db))
}

func TestItems_OwnerReferenceImmutable(t *testing.T) {
	db := openTemp(t)
	m := NewManager(db)
	a := mustUser(t, m, "a@x.com")
	b := mustUser(t, m, "b@x.com")
	it := &model.Item{OwnerID: a.ID, Title: "t"}
	require.NoError(t, m.WithTx(context.Background(), func(ctx context.Context, tx session.Tx) error {
		return tx.Items().Create(ctx, it)
	}))

	_, err := db.SQL.Exec(`UPDATE items SET owner_id = ? WHERE id = ?`, b.ID, it.ID)
	require.Error(t, err)
}

func TestWithTx_SecondWriteFails_NothingVisible(t *testing.T) {
	db := openTemp(t)
	var seen []string
	m := NewManager(db, WithObserver(func(o string) { seen = append(seen, o) }))
	ctx := context.Background()
	a := mustUser(t, m, "a@x.com")
	seen = nil

	err := m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		if err := tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: "first"}); err != nil {
			return err
		}
		// Violates the title CHECK constraint.
		return tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: ""})
	})
	require.ErrorIs(t, err, errs.ErrTransactionFailed)
	require.Equal(t, 0, countItems(t, db))
	require.Equal(t, []string{session.OutcomeRolledBack}, seen)
}

func TestWithTx_PanicRollsBack(t *testing.T) {
	db := openTemp(t)
	m := NewManager(db)
	a := mustUser(t, m, "a@x.com")

	func() {
		defer func() { require.Equal(t, "boom", recover()) }()
		_ = m.WithTx(context.Background(), func(ctx context.Context, tx session.Tx) error {
			if err := tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: "x"}); err != nil {
				return err
			}
			panic("boom")
		})
	}()
	require.Equal(t, 0, countItems(t, db))

	// The connection was released: a new unit can write.
	require.NoError(t, m.WithTx(context.Background(), func(ctx context.Context, tx session.Tx) error {
		return tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: "y"})
	}))
	require.Equal(t, 1, countItems(t, db))
}

func TestWithTx_CancellationRollsBack(t *testing.T) {
	db := openTemp(t)
	m := NewManager(db)
	a := mustUser(t, m, "a@x.com")

	ctx, cancel := context.WithCancel(context.Background())
	err := m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		if err := tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: "x"}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, countItems(t, db))
}

func TestWithTx_NestedRejected(t *testing.T) {
	m := NewManager(openTemp(t))
	err := m.WithTx(context.Background(), func(ctx context.Context, _ session.Tx) error {
		return m.WithTx(ctx, func(context.Context, session.Tx) error { return nil })
	})
	require.ErrorIs(t, err, errs.ErrNestedUnitOfWork)
}

func TestWithTx_ConcurrentUnitsSerialize(t *testing.T) {
	db := openTemp(t)
	m := NewManager(db)
	a := mustUser(t, m, "a@x.com")

	const n = 16
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- m.WithTx(context.Background(), func(ctx context.Context, tx session.Tx) error {
				if _, err := tx.Items().List(ctx, a.ID, model.ItemFilter{Limit: 100}); err != nil {
					return err
				}
				return tx.Items().Create(ctx, &model.Item{OwnerID: a.ID, Title: fmt.Sprintf("t%d", i)})
			})
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Equal(t, n, countItems(t, db))
}

func TestWithTx_CommitFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	var seen []string
	m := NewManager(&DB{SQL: sqlDB}, WithObserver(func(o string) { seen = append(seen, o) }))

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))
	err = m.WithTx(context.Background(), func(context.Context, session.Tx) error { return nil })
	require.ErrorIs(t, err, errs.ErrTransactionFailed)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, []string{session.OutcomeCommitFailed}, seen)
}

func TestWithTx_BeginFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	m := NewManager(&DB{SQL: sqlDB})

	mock.ExpectBegin().WillReturnError(errors.New("disk I/O error"))
	err = m.WithTx(context.Background(), func(context.Context, session.Tx) error { return nil })
	require.ErrorIs(t, err, errs.ErrTransactionFailed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ", nil)
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/x.db")
	require.Contains(t, dsn, "file:/tmp/x.db?")
	require.Contains(t, dsn, "_txlock=immediate")
	require.Contains(t, dsn, "journal_mode%28WAL%29")
}
