package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
)

// UserRepo implements UserRepository using SQLite.
type UserRepo struct {
	q   Querier
	now func() time.Time
}

// NewUserRepo constructs a user repository bound to q.
func NewUserRepo(q Querier, now func() time.Time) *UserRepo {
	if now == nil {
		now = time.Now
	}
	return &UserRepo{q: q, now: now}
}

const userCols = `id, email, full_name, password_hash, is_active, created_at, updated_at`

// Create inserts a new user row and fills its timestamps.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = id
	}
	now := toMillis(r.now())
	const q = `
INSERT INTO users (id, email, full_name, password_hash, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, q, u.ID, u.Email, u.FullName, u.PasswordHash, u.IsActive, now, now)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fault("users.create", err)
	}
	u.CreatedAt, u.UpdatedAt = fromMillis(now), fromMillis(now)
	return nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var (
		u                model.User
		created, updated int64
	)
	err := r.q.QueryRowContext(ctx, q, arg).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("users.get", err)
	}
	u.CreatedAt, u.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &u, nil
}

// UpdatePasswordHash stores a new password hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE users SET password_hash = ?, updated_at = max(?, updated_at + 1) WHERE id = ?`
	return r.exec(ctx, "users.update_password", q, hash, toMillis(r.now()), id)
}

// SetActive flips the active flag.
func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE users SET is_active = ?, updated_at = max(?, updated_at + 1) WHERE id = ?`
	return r.exec(ctx, "users.set_active", q, active, toMillis(r.now()), id)
}

func (r *UserRepo) exec(ctx context.Context, op, q string, args ...any) error {
	res, err := r.q.ExecContext(ctx, q, args...)
	if err != nil {
		return fault(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault(op, err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fault("users.count", err)
	}
	return n, nil
}
