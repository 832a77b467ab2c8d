// Package seed populates an empty database with demo accounts and inspection items.
package seed

import (
	"context"
	"fmt"

	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "ChangeMe123"

// Hasher produces stored password hashes.
type Hasher interface {
	Hash(secret string) (string, error)
}

type account struct {
	email, fullName string
}

var accounts = []account{
	{"inspector@opengovfood.com", "Field Inspector"},
	{"admin@opengovfood.com", "Platform Administrator"},
}

var inspectorItems = []model.ItemInput{
	{Title: "Weekly Inspection", Description: "Routine weekly restaurant hygiene inspection.", Status: model.ItemPending},
	{Title: "Temperature Compliance Review", Description: "Review cold storage temperature logs.", Status: model.ItemInProgress},
	{Title: "Consumer Complaint Investigation", Description: "Follow up on a reported foodborne illness complaint.", Status: model.ItemPending},
}

// Run creates the demo data when no users exist. It reports whether anything was written.
// All rows are written in one unit of work, so a failure leaves the database untouched.
func Run(ctx context.Context, m session.Manager, h Hasher, log *zap.Logger) (bool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	hashes := make([]string, len(accounts))
	for i := range accounts {
		hash, err := h.Hash(DefaultPassword)
		if err != nil {
			return false, fmt.Errorf("seed: hash: %w", err)
		}
		hashes[i] = hash
	}

	seeded := false
	err := m.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		n, err := tx.Users().Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		users := make([]*model.User, len(accounts))
		for i, a := range accounts {
			users[i] = &model.User{Email: a.email, FullName: a.fullName, PasswordHash: hashes[i], IsActive: true}
			if err := tx.Users().Create(ctx, users[i]); err != nil {
				return fmt.Errorf("create %s: %w", a.email, err)
			}
		}
		for _, in := range inspectorItems {
			it := &model.Item{OwnerID: users[0].ID, Title: in.Title, Description: in.Description, Status: in.Status}
			if err := tx.Items().Create(ctx, it); err != nil {
				return fmt.Errorf("create item %q: %w", in.Title, err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if seeded {
		log.Info("seeded demo data", zap.Int("users", len(accounts)), zap.Int("items", len(inspectorItems)))
	} else {
		log.Info("database already populated, seeding skipped")
	}
	return seeded, nil
}
