// Package repository defines storage interfaces implemented by concrete backends.
//
// Repositories never open transactions of their own: every instance is bound to the unit of work
// that produced it (see package session).
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/model"
)

// UserRepository provides access to identities.
type UserRepository interface {
	// Create inserts a new user; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by its unique handle.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdatePasswordHash replaces the stored hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// SetActive flips the active flag and bumps updated_at.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// Count returns the number of users.
	Count(ctx context.Context) (int64, error)
}
