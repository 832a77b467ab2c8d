// Package service contains the authentication core (login, identity resolution, ownership gate)
// and the item operations it guards.
package service

import (
	"time"

	"github.com/opengovfood/opengovfood/internal/token"
)

// PasswordHasher hashes and verifies credentials. Implemented by *crypto.Hasher.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) bool
	DummyVerify(secret string)
}

// TokenCodec issues and verifies bearer tokens. Implemented by *token.Codec.
type TokenCodec interface {
	Issue(subject string, ttl time.Duration) (string, time.Time, error)
	Verify(raw string) (*token.Claims, error)
}

// Recorder receives security-relevant counters. Implemented by *obs.Metrics; nil disables it.
type Recorder interface {
	Login(outcome string)
	Decision(reason string)
	AuthFailure(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Login(string)       {}
func (nopRecorder) Decision(string)    {}
func (nopRecorder) AuthFailure(string) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
