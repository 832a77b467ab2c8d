package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"github.com/opengovfood/opengovfood/internal/token"
	"go.uber.org/zap"
)

// Internal reasons for rejecting a presented token. They reach logs and metrics, never callers.
const (
	reasonMissing      = "missing"
	reasonMalformed    = "malformed"
	reasonBadSignature = "invalid-signature"
	reasonExpired      = "expired"
	reasonUnknown      = "unknown-subject"
	reasonInactive     = "inactive"
)

// IdentityResolver turns a bearer token into a verified, active user.
type IdentityResolver struct {
	codec TokenCodec
	log   *zap.Logger
	rec   Recorder
}

// NewIdentityResolver constructs a resolver. log and rec may be nil.
func NewIdentityResolver(codec TokenCodec, log *zap.Logger, rec Recorder) *IdentityResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityResolver{codec: codec, log: log, rec: recorderOrNop(rec)}
}

// Resolve verifies raw and loads its subject through tx, the caller's unit of work. Every
// rejection is errs.ErrUnauthenticated; only storage faults are reported differently.
func (r *IdentityResolver) Resolve(ctx context.Context, tx session.Tx, raw string) (*model.User, error) {
	if raw == "" {
		return nil, r.reject(reasonMissing, nil)
	}
	claims, err := r.codec.Verify(raw)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			return nil, r.reject(reasonExpired, err)
		case errors.Is(err, token.ErrInvalidSignature):
			return nil, r.reject(reasonBadSignature, err)
		default:
			return nil, r.reject(reasonMalformed, err)
		}
	}

	u, err := tx.Users().GetByEmail(ctx, claims.Subject)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, r.reject(reasonUnknown, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if !u.IsActive {
		r.log.Info("token of inactive user rejected", zap.String("user_id", u.ID.String()))
		return nil, r.reject(reasonInactive, nil)
	}
	return u, nil
}

func (r *IdentityResolver) reject(reason string, cause error) error {
	r.rec.AuthFailure(reason)
	fields := []zap.Field{zap.String("reason", reason)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	r.log.Debug("authentication rejected", fields...)
	return errs.ErrUnauthenticated
}
