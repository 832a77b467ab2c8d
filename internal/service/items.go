package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// Listing bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 100

	maxTitleLen       = 255
	maxDescriptionLen = 1024
)

// ItemService defines ownership-scoped item operations. Every call authenticates rawToken and,
// for id-addressed calls, authorizes the caller inside the same unit of work as the operation.
type ItemService interface {
	Create(ctx context.Context, rawToken string, in model.ItemInput) (*model.Item, error)
	Get(ctx context.Context, rawToken string, id uuid.UUID) (*model.Item, error)
	List(ctx context.Context, rawToken string, f model.ItemFilter) ([]model.Item, error)
	Update(ctx context.Context, rawToken string, id uuid.UUID, patch model.ItemPatch) (*model.Item, error)
	Delete(ctx context.Context, rawToken string, id uuid.UUID) (*model.Item, error)
}

type ItemServiceImpl struct {
	tx       session.Manager
	resolver *IdentityResolver
	gate     *Gate
	log      *zap.Logger
}

// NewItemService constructs ItemService. log may be nil.
func NewItemService(tx session.Manager, resolver *IdentityResolver, gate *Gate, log *zap.Logger) *ItemServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ItemServiceImpl{tx: tx, resolver: resolver, gate: gate, log: log}
}

func validateTitle(title string) error {
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleLen {
		return fmt.Errorf("%w: title must be 1..%d characters", errs.ErrValidation, maxTitleLen)
	}
	return nil
}

func validateDescription(d string) error {
	if utf8.RuneCountInString(d) > maxDescriptionLen {
		return fmt.Errorf("%w: description must be at most %d characters", errs.ErrValidation, maxDescriptionLen)
	}
	return nil
}

func validateStatus(s model.ItemStatus) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", errs.ErrValidation, s)
	}
	return nil
}

// Create stores a new item owned by the caller.
func (s *ItemServiceImpl) Create(ctx context.Context, rawToken string, in model.ItemInput) (*model.Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = model.ItemPending
	}
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, err
	}
	if err := validateStatus(in.Status); err != nil {
		return nil, err
	}

	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.Item, error) {
		who, err := s.resolver.Resolve(ctx, tx, rawToken)
		if err != nil {
			return nil, err
		}
		it := &model.Item{OwnerID: who.ID, Title: in.Title, Description: in.Description, Status: in.Status}
		if err := tx.Items().Create(ctx, it); err != nil {
			return nil, err
		}
		s.log.Debug("item created", zap.String("item_id", it.ID.String()), zap.String("user_id", who.ID.String()))
		return it, nil
	})
}

// Get returns one of the caller's items.
func (s *ItemServiceImpl) Get(ctx context.Context, rawToken string, id uuid.UUID) (*model.Item, error) {
	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.Item, error) {
		if err := s.authorize(ctx, tx, rawToken, id); err != nil {
			return nil, err
		}
		return tx.Items().Get(ctx, id)
	})
}

// List returns a page of the caller's items.
func (s *ItemServiceImpl) List(ctx context.Context, rawToken string, f model.ItemFilter) ([]model.Item, error) {
	if f.Skip < 0 {
		return nil, fmt.Errorf("%w: skip must not be negative", errs.ErrValidation)
	}
	switch {
	case f.Limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", errs.ErrValidation)
	case f.Limit == 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Status != "" {
		if err := validateStatus(f.Status); err != nil {
			return nil, err
		}
	}

	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) ([]model.Item, error) {
		who, err := s.resolver.Resolve(ctx, tx, rawToken)
		if err != nil {
			return nil, err
		}
		return tx.Items().List(ctx, who.ID, f)
	})
}

// Update applies patch to one of the caller's items.
func (s *ItemServiceImpl) Update(ctx context.Context, rawToken string, id uuid.UUID, patch model.ItemPatch) (*model.Item, error) {
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if err := validateTitle(t); err != nil {
			return nil, err
		}
		patch.Title = &t
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return nil, err
		}
	}
	if patch.Status != nil {
		if err := validateStatus(*patch.Status); err != nil {
			return nil, err
		}
	}

	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.Item, error) {
		if err := s.authorize(ctx, tx, rawToken, id); err != nil {
			return nil, err
		}
		return tx.Items().Update(ctx, id, patch)
	})
}

// Delete removes one of the caller's items and returns it as it was before removal.
func (s *ItemServiceImpl) Delete(ctx context.Context, rawToken string, id uuid.UUID) (*model.Item, error) {
	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.Item, error) {
		if err := s.authorize(ctx, tx, rawToken, id); err != nil {
			return nil, err
		}
		it, err := tx.Items().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := tx.Items().Delete(ctx, id); err != nil {
			return nil, err
		}
		s.log.Debug("item deleted", zap.String("item_id", id.String()))
		return it, nil
	})
}

func (s *ItemServiceImpl) authorize(ctx context.Context, tx session.Tx, rawToken string, id uuid.UUID) error {
	who, err := s.resolver.Resolve(ctx, tx, rawToken)
	if err != nil {
		return err
	}
	return s.gate.Authorize(ctx, tx, who, id, model.CapOwner)
}
