// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"time"
)

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation")

	// ErrRateLimited indicates the login limiter rejected the attempt.
	ErrRateLimited = errors.New("too many attempts")

	// ErrInvalidCredentials indicates a failed login. It never says which half was wrong.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	// ErrUnauthenticated covers missing, expired and forged tokens as well as inactive identities.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden indicates an authenticated caller lacks the capability for an action.
	ErrForbidden = errors.New("forbidden")

	// ErrTransactionFailed indicates a storage fault inside a unit of work.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNestedUnitOfWork indicates an attempt to open a unit of work inside another one.
	ErrNestedUnitOfWork = errors.New("nested unit of work")
)

// RetryAfterError reports a rate-limited attempt together with the time until the window resets.
type RetryAfterError struct {
	Wait time.Duration
}

func (e *RetryAfterError) Error() string { return ErrRateLimited.Error() }

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RetryAfterError) Unwrap() error { return ErrRateLimited }
