// Package limiter bounds credential-verification attempts per origin.
//
// Every backend counts attempts in a fixed window: the first attempt from an origin opens a window
// of length Window, and once Threshold attempts were admitted inside it, further attempts are
// refused until the window elapses. Admit counts before deciding, so concurrent callers can never
// both take the last slot.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Limiter controls login attempts per origin.
type Limiter interface {
	// Admit records an attempt and reports whether it may proceed. When refused, the duration is
	// how long until the window resets.
	Admit(ctx context.Context, origin string) (bool, time.Duration, error)
	// Reset forgets the origin's window, e.g. after a successful login.
	Reset(ctx context.Context, origin string) error
}

// Config is the shared limiter configuration.
type Config struct {
	Threshold int           // attempts admitted per window
	Window    time.Duration // window length
}

// Validate checks that the configuration can admit anything at all.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("limiter: threshold must be positive, got %d", c.Threshold)
	}
	if c.Window <= 0 {
		return errors.New("limiter: window must be positive")
	}
	return nil
}

// HashOrigin returns a stable hash of an origin key so raw client addresses are never stored.
func HashOrigin(origin string) []byte {
	h := sha256.Sum256([]byte(origin))
	return h[:]
}

func hashOriginHex(origin string) string {
	return hex.EncodeToString(HashOrigin(origin))
}
