package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// Gate decides whether an identity may act on an item.
//
// Checks run in a fixed order: resource missing, identity inactive, not the owner. A missing item
// and someone else's item produce the same outward error, so probing ids reveals nothing.
type Gate struct {
	log *zap.Logger
	rec Recorder
}

// NewGate constructs a Gate. log and rec may be nil.
func NewGate(log *zap.Logger, rec Recorder) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{log: log, rec: recorderOrNop(rec)}
}

// Decide loads the item's owner through tx, the same unit of work as the guarded operation, and
// returns the decision. The error is non-nil only for storage faults.
func (g *Gate) Decide(ctx context.Context, tx session.Tx, who *model.User, itemID uuid.UUID, required model.Capability) (model.Decision, error) {
	owner, err := tx.Items().OwnerOf(ctx, itemID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return model.Decision{Reason: model.ReasonResourceMissing}, nil
	case err != nil:
		return model.Decision{}, fmt.Errorf("authorize: %w", err)
	}
	if who == nil || !who.IsActive {
		return model.Decision{Reason: model.ReasonIdentityInactive}, nil
	}
	if required != model.CapOwner || owner != who.ID {
		return model.Decision{Reason: model.ReasonNotOwner}, nil
	}
	return model.Decision{Allow: true, Reason: model.ReasonOK}, nil
}

// Authorize runs Decide and maps a denial to the caller-visible error: errs.ErrNotFound for a
// missing or foreign item, errs.ErrUnauthenticated for an inactive identity.
func (g *Gate) Authorize(ctx context.Context, tx session.Tx, who *model.User, itemID uuid.UUID, required model.Capability) error {
	d, err := g.Decide(ctx, tx, who, itemID, required)
	if err != nil {
		return err
	}
	g.rec.Decision(string(d.Reason))
	if d.Allow {
		return nil
	}
	fields := []zap.Field{zap.String("reason", string(d.Reason)), zap.String("item_id", itemID.String())}
	if who != nil {
		fields = append(fields, zap.String("user_id", who.ID.String()))
	}
	g.log.Info("authorization denied", fields...)

	if d.Reason == model.ReasonIdentityInactive {
		return errs.ErrUnauthenticated
	}
	return errs.ErrNotFound
}
