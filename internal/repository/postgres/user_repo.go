package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ q Querier }

// NewUserRepo constructs a user repository bound to q.
func NewUserRepo(q Querier) *UserRepo { return &UserRepo{q: q} }

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
	const q = `
INSERT INTO users (id, email, full_name, password_hash, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, q, u.ID, u.Email, u.FullName, u.PasswordHash, u.IsActive).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fault("users.create", err)
	}
	return nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, email)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var u model.User
	err := r.q.QueryRow(ctx, q, arg).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("users.get", err)
	}
	return &u, nil
}

// UpdatePasswordHash stores a new password hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `
UPDATE users
SET password_hash = $2, updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
WHERE id = $1`
	return r.exec(ctx, "users.update_password", q, id, hash)
}

// SetActive flips the active flag.
func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `
UPDATE users
SET is_active = $2, updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
WHERE id = $1`
	return r.exec(ctx, "users.set_active", q, id, active)
}

func (r *UserRepo) exec(ctx context.Context, op, q string, args ...any) error {
	tag, err := r.q.Exec(ctx, q, args...)
	if err != nil {
		return fault(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fault("users.count", err)
	}
	return n, nil
}
