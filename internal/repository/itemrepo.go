package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/model"
)

// ItemRepository provides access to owned inspection items.
type ItemRepository interface {
	// Create inserts a new item; OwnerID must reference an existing user.
	Create(ctx context.Context, it *model.Item) error

	// Get returns a single item by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Item, error)

	// OwnerOf returns the owner reference of an item, locking the row against concurrent
	// writers where the backend supports it. A missing item yields errs.ErrNotFound.
	OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)

	// List returns the owner's items ordered by creation time.
	List(ctx context.Context, ownerID uuid.UUID, f model.ItemFilter) ([]model.Item, error)

	// Update applies patch and returns the stored item. The owner reference is never changed.
	Update(ctx context.Context, id uuid.UUID, patch model.ItemPatch) (*model.Item, error)

	// Delete removes an item.
	Delete(ctx context.Context, id uuid.UUID) error
}
