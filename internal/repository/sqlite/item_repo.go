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

// ItemRepo implements ItemRepository using SQLite.
type ItemRepo struct {
	q   Querier
	now func() time.Time
}

// NewItemRepo constructs an item repository bound to q.
func NewItemRepo(q Querier, now func() time.Time) *ItemRepo {
	if now == nil {
		now = time.Now
	}
	return &ItemRepo{q: q, now: now}
}

const itemCols = `id, owner_id, title, description, status, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanItem(row scanner) (*model.Item, error) {
	var (
		it               model.Item
		status           string
		created, updated int64
	)
	if err := row.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Description, &status, &created, &updated); err != nil {
		return nil, err
	}
	it.Status = model.ItemStatus(status)
	it.CreatedAt, it.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &it, nil
}

// Create inserts an item and fills its timestamps.
func (r *ItemRepo) Create(ctx context.Context, it *model.Item) error {
	if it.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		it.ID = id
	}
	if it.Status == "" {
		it.Status = model.ItemPending
	}
	now := toMillis(r.now())
	const q = `
INSERT INTO items (id, owner_id, title, description, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, q, it.ID, it.OwnerID, it.Title, it.Description, string(it.Status), now, now)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	case err != nil:
		return fault("items.create", err)
	}
	it.CreatedAt, it.UpdatedAt = fromMillis(now), fromMillis(now)
	return nil
}

// Get selects an item by ID.
func (r *ItemRepo) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	it, err := scanItem(r.q.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("items.get", err)
	}
	return it, nil
}

// OwnerOf reads the owner reference. Units begin IMMEDIATE, so the write lock is already held and
// no other writer can touch the row before the unit ends.
func (r *ItemRepo) OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.q.QueryRowContext(ctx, `SELECT owner_id FROM items WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, errs.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fault("items.owner_of", err)
	}
	return owner, nil
}

// List returns the owner's items, oldest first.
func (r *ItemRepo) List(ctx context.Context, ownerID uuid.UUID, f model.ItemFilter) ([]model.Item, error) {
	const q = `
SELECT ` + itemCols + `
FROM items
WHERE owner_id = ?1 AND (?2 = '' OR status = ?2)
ORDER BY created_at, id
LIMIT ?3 OFFSET ?4`
	rows, err := r.q.QueryContext(ctx, q, ownerID, string(f.Status), f.Limit, f.Skip)
	if err != nil {
		return nil, fault("items.list", err)
	}
	defer rows.Close()

	out := make([]model.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fault("items.list", err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("items.list", err)
	}
	return out, nil
}

// Update applies the non-nil fields of patch.
func (r *ItemRepo) Update(ctx context.Context, id uuid.UUID, p model.ItemPatch) (*model.Item, error) {
	var status *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}
	const q = `
UPDATE items
SET title = COALESCE(?, title),
    description = COALESCE(?, description),
    status = COALESCE(?, status),
    updated_at = max(?, updated_at + 1)
WHERE id = ?
RETURNING ` + itemCols
	it, err := scanItem(r.q.QueryRowContext(ctx, q, p.Title, p.Description, status, toMillis(r.now()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("items.update", err)
	}
	return it, nil
}

// Delete removes an item.
func (r *ItemRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fault("items.delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault("items.delete", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
