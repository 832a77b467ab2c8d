package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
)

// ItemRepo implements ItemRepository using PostgreSQL.
type ItemRepo struct{ q Querier }

// NewItemRepo constructs an item repository bound to q.
func NewItemRepo(q Querier) *ItemRepo { return &ItemRepo{q: q} }

const itemCols = `id, owner_id, title, description, status, created_at, updated_at`

func scanItem(row pgx.Row) (*model.Item, error) {
	var (
		it     model.Item
		status string
	)
	if err := row.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Description, &status, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.Status = model.ItemStatus(status)
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
	const q = `
INSERT INTO items (id, owner_id, title, description, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, q, it.ID, it.OwnerID, it.Title, it.Description, string(it.Status)).
		Scan(&it.CreatedAt, &it.UpdatedAt)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	case err != nil:
		return fault("items.create", err)
	}
	return nil
}

// Get selects an item by ID.
func (r *ItemRepo) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	it, err := scanItem(r.q.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("items.get", err)
	}
	return it, nil
}

// OwnerOf reads the owner reference and holds a row lock until the transaction ends, so a
// concurrent writer cannot change or delete the row between the check and the guarded write.
func (r *ItemRepo) OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.q.QueryRow(ctx, `SELECT owner_id FROM items WHERE id=$1 FOR UPDATE`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
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
WHERE owner_id=$1 AND ($2 = '' OR status=$2)
ORDER BY created_at, id
OFFSET $3 LIMIT $4`
	rows, err := r.q.Query(ctx, q, ownerID, string(f.Status), f.Skip, f.Limit)
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
SET title = COALESCE($2, title),
    description = COALESCE($3, description),
    status = COALESCE($4, status),
    updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
WHERE id = $1
RETURNING ` + itemCols
	it, err := scanItem(r.q.QueryRow(ctx, q, id, p.Title, p.Description, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fault("items.update", err)
	}
	return it, nil
}

// Delete removes an item.
func (r *ItemRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM items WHERE id=$1`, id)
	if err != nil {
		return fault("items.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
