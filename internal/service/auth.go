package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opengovfood/opengovfood/internal/errs"
	"github.com/opengovfood/opengovfood/internal/limiter"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/session"
	"go.uber.org/zap"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

// AuthService defines account and authentication operations.
type AuthService interface {
	// Register creates an active user.
	Register(ctx context.Context, email, password, fullName string) (*model.User, error)
	// Login applies rate limiting per origin, verifies the credential pair and issues a token.
	Login(ctx context.Context, email, password, origin string) (model.Tokens, error)
	// Authenticate resolves a bearer token to its active user.
	Authenticate(ctx context.Context, rawToken string) (*model.User, error)
	// ChangePassword replaces the caller's password after verifying the current one.
	ChangePassword(ctx context.Context, rawToken, current, next string) error
	// SetActive activates or deactivates the user with email.
	SetActive(ctx context.Context, email string, active bool) error
}

type AuthServiceImpl struct {
	tx       session.Manager
	hasher   PasswordHasher
	codec    TokenCodec
	lim      limiter.Limiter
	resolver *IdentityResolver
	ttl      time.Duration

	openRegistration bool
	log              *zap.Logger
	rec              Recorder
}

// AuthOption configures AuthServiceImpl.
type AuthOption func(*AuthServiceImpl)

// WithOpenRegistration enables or disables self-service registration (enabled by default).
func WithOpenRegistration(open bool) AuthOption {
	return func(s *AuthServiceImpl) { s.openRegistration = open }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) AuthOption {
	return func(s *AuthServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) AuthOption {
	return func(s *AuthServiceImpl) { s.rec = recorderOrNop(r) }
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	tx session.Manager, hasher PasswordHasher, codec TokenCodec, lim limiter.Limiter, ttl time.Duration,
	opts ...AuthOption,
) *AuthServiceImpl {
	s := &AuthServiceImpl{
		tx: tx, hasher: hasher, codec: codec, lim: lim, ttl: ttl,
		openRegistration: true,
		log:              zap.NewNop(),
		rec:              nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewIdentityResolver(codec, s.log, s.rec)
	return s
}

// Resolver exposes the identity resolver shared with other services.
func (s *AuthServiceImpl) Resolver() *IdentityResolver { return s.resolver }

// NormalizeEmail trims and lower-cases a handle.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" || utf8.RuneCountInString(email) > 255 {
		return fmt.Errorf("%w: email must be 1..255 characters", errs.ErrValidation)
	}
	a, err := mail.ParseAddress(email)
	if err != nil || a.Address != email {
		return fmt.Errorf("%w: invalid email address", errs.ErrValidation)
	}
	return nil
}

func validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrValidation, MinPasswordLen)
	}
	return nil
}

// Register creates a new active user with a hashed password.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	if !s.openRegistration {
		return nil, fmt.Errorf("%w: open registration is disabled", errs.ErrForbidden)
	}
	email = NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(fullName) > 255 {
		return nil, fmt.Errorf("%w: full name must be at most 255 characters", errs.ErrValidation)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	u := &model.User{Email: email, FullName: fullName, PasswordHash: hash, IsActive: true}
	if err := s.tx.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		return tx.Users().Create(ctx, u)
	}); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Login runs the attempt state machine: rate check, credential verification, token issuance.
// Every attempt counts against origin; a successful one clears its window. Unknown handles,
// wrong passwords and inactive accounts are indistinguishable to the caller.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, origin string) (model.Tokens, error) {
	ok, wait, err := s.lim.Admit(ctx, origin)
	if err != nil {
		s.rec.Login("error")
		return model.Tokens{}, fmt.Errorf("login: rate limiter: %w", err)
	}
	if !ok {
		s.rec.Login("rate_limited")
		s.log.Info("login rate limited", zap.Duration("retry_after", wait))
		return model.Tokens{}, &errs.RetryAfterError{Wait: wait}
	}

	email = NormalizeEmail(email)
	u, err := session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.User, error) {
		return tx.Users().GetByEmail(ctx, email)
	})
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.hasher.DummyVerify(password)
		return model.Tokens{}, s.badCredentials("unknown-handle")
	case err != nil:
		s.rec.Login("error")
		return model.Tokens{}, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return model.Tokens{}, s.badCredentials("wrong-password")
	}
	if !u.IsActive {
		return model.Tokens{}, s.badCredentials("inactive")
	}

	if err := s.lim.Reset(ctx, origin); err != nil {
		s.log.Warn("rate limiter reset failed", zap.Error(err))
	}
	access, exp, err := s.codec.Issue(u.Email, s.ttl)
	if err != nil {
		s.rec.Login("error")
		return model.Tokens{}, fmt.Errorf("login: %w", err)
	}
	s.rec.Login("success")
	s.log.Info("login succeeded", zap.String("user_id", u.ID.String()))
	return model.Tokens{AccessToken: access, TokenType: "bearer", ExpiresAt: exp}, nil
}

func (s *AuthServiceImpl) badCredentials(reason string) error {
	s.rec.Login("invalid_credentials")
	s.log.Debug("login rejected", zap.String("reason", reason))
	return errs.ErrInvalidCredentials
}

// Authenticate resolves rawToken in its own unit of work.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, rawToken string) (*model.User, error) {
	return session.Do(ctx, s.tx, func(ctx context.Context, tx session.Tx) (*model.User, error) {
		return s.resolver.Resolve(ctx, tx, rawToken)
	})
}

// ChangePassword verifies current and stores a hash of next. Attempts count against a per-user
// window of the login limiter so a held token cannot be used to guess the password.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, rawToken, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return s.tx.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		u, err := s.resolver.Resolve(ctx, tx, rawToken)
		if err != nil {
			return err
		}
		key := passwordChangeKey(u)
		ok, wait, err := s.lim.Admit(ctx, key)
		if err != nil {
			return fmt.Errorf("change password: rate limiter: %w", err)
		}
		if !ok {
			s.log.Info("password change rate limited", zap.String("user_id", u.ID.String()))
			return &errs.RetryAfterError{Wait: wait}
		}
		if !s.hasher.Verify(current, u.PasswordHash) {
			return errs.ErrInvalidCredentials
		}
		if err := tx.Users().UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			return err
		}
		if err := s.lim.Reset(ctx, key); err != nil {
			s.log.Warn("rate limiter reset failed", zap.Error(err))
		}
		s.log.Info("password changed", zap.String("user_id", u.ID.String()))
		return nil
	})
}

func passwordChangeKey(u *model.User) string { return "password-change:" + u.ID.String() }

// SetActive flips the active flag of the user with email. Deactivation takes effect on the
// user's next request, whatever tokens they hold.
func (s *AuthServiceImpl) SetActive(ctx context.Context, email string, active bool) error {
	email = NormalizeEmail(email)
	return s.tx.WithTx(ctx, func(ctx context.Context, tx session.Tx) error {
		u, err := tx.Users().GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := tx.Users().SetActive(ctx, u.ID, active); err != nil {
			return err
		}
		s.log.Info("user active flag changed", zap.String("user_id", u.ID.String()), zap.Bool("active", active))
		return nil
	})
}
