// Package crypto implements server-side password hashing and verification.
//
// Hashes are self-describing strings: argon2id hashes use the PHC layout
// `$argon2id$v=19$m=<KiB>,t=<iterations>,p=<threads>$<salt>$<key>` and bcrypt hashes use the
// standard `$2a$`/`$2b$`/`$2y$` modular crypt layout. Verification reads every parameter from the
// stored value, so changing the configured cost never invalidates existing hashes.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm selects how new hashes are produced.
type Algorithm string

const (
	Argon2id Algorithm = "argon2id"
	Bcrypt   Algorithm = "bcrypt"
)

// Argon2id defaults (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Upper bounds accepted when parsing stored argon2id hashes. A stored value outside them is
// treated as malformed so a tampered row cannot make verification arbitrarily expensive.
const (
	maxArgonTime    = 16
	maxArgonMemory  = 1024 * 1024 // 1 GiB
	maxArgonThreads = 64
	minArgonSalt    = 8
	maxArgonSalt    = 64
	minArgonKey     = 16
	maxArgonKey     = 128
)

// ErrEmptySecret is returned by Hash for an empty secret.
var ErrEmptySecret = errors.New("crypto: empty secret")

// Argon2Params are the cost parameters for new argon2id hashes.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

// Hasher produces and verifies password hashes. It is immutable after construction and safe for
// concurrent use.
type Hasher struct {
	algo       Algorithm
	argon      Argon2Params
	bcryptCost int

	dummyOnce sync.Once
	dummy     string
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithAlgorithm selects the algorithm for new hashes.
func WithAlgorithm(a Algorithm) Option {
	return func(h *Hasher) { h.algo = a }
}

// WithArgon2Params overrides argon2id cost parameters.
func WithArgon2Params(p Argon2Params) Option {
	return func(h *Hasher) { h.argon = p }
}

// WithCost sets the adaptive work factor of the selected algorithm: iterations for argon2id,
// log2 rounds for bcrypt. Zero keeps the default.
func WithCost(cost int) Option {
	return func(h *Hasher) {
		if cost <= 0 {
			return
		}
		switch h.algo {
		case Bcrypt:
			h.bcryptCost = cost
		default:
			h.argon.Time = uint32(cost)
		}
	}
}

// NewHasher returns a Hasher; argon2id with the package defaults unless options say otherwise.
// Options apply in order, so WithAlgorithm should precede WithCost.
func NewHasher(opts ...Option) (*Hasher, error) {
	h := &Hasher{
		algo:       Argon2id,
		argon:      Argon2Params{Time: argonTime, Memory: argonMemory, Threads: argonThreads},
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(h)
	}
	switch h.algo {
	case Argon2id:
		if h.argon.Time == 0 || h.argon.Time > maxArgonTime {
			return nil, fmt.Errorf("crypto: argon2id iterations out of range: %d", h.argon.Time)
		}
		if h.argon.Memory < 8*uint32(h.argon.Threads) || h.argon.Memory > maxArgonMemory {
			return nil, fmt.Errorf("crypto: argon2id memory out of range: %d", h.argon.Memory)
		}
		if h.argon.Threads == 0 || h.argon.Threads > maxArgonThreads {
			return nil, fmt.Errorf("crypto: argon2id threads out of range: %d", h.argon.Threads)
		}
	case Bcrypt:
		if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("crypto: bcrypt cost out of range: %d", h.bcryptCost)
		}
	default:
		return nil, fmt.Errorf("crypto: unknown algorithm %q", h.algo)
	}
	return h, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm { return h.algo }

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hash returns a self-describing hash of secret with a fresh random salt.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if h.algo == Bcrypt {
		b, err := bcrypt.GenerateFromPassword([]byte(secret), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("crypto: bcrypt: %w", err)
		}
		return string(b), nil
	}

	salt, err := RandBytes(argonSaltLen)
	if err != nil {
		return "", fmt.Errorf("crypto: salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.argon.Time, h.argon.Memory, h.argon.Threads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.argon.Memory, h.argon.Time, h.argon.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. Any malformed, unsupported or out-of-bounds
// encoded value yields false.
func (h *Hasher) Verify(secret, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(secret, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret)) == nil
	default:
		return false
	}
}

// DummyVerify spends the same work as a real verification against a hash that can never match.
// Login uses it for unknown handles so response timing does not reveal whether an account exists.
func (h *Hasher) DummyVerify(secret string) {
	h.dummyOnce.Do(func() {
		pw, err := RandBytes(32)
		if err != nil {
			return
		}
		h.dummy, _ = h.Hash(base64.RawStdEncoding.EncodeToString(pw))
	})
	_ = h.Verify(secret, h.dummy)
}

type argonHash struct {
	p    Argon2Params
	salt []byte
	key  []byte
}

func parseArgon2id(encoded string) (argonHash, bool) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argonHash{}, false
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return argonHash{}, false
	}

	var out argonHash
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return argonHash{}, false
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return argonHash{}, false
		}
		switch k {
		case "m":
			out.p.Memory = uint32(n)
			seen |= 1
		case "t":
			out.p.Time = uint32(n)
			seen |= 2
		case "p":
			if n > maxArgonThreads {
				return argonHash{}, false
			}
			out.p.Threads = uint8(n)
			seen |= 4
		default:
			return argonHash{}, false
		}
	}
	if seen != 7 {
		return argonHash{}, false
	}
	if out.p.Time == 0 || out.p.Time > maxArgonTime ||
		out.p.Threads == 0 ||
		out.p.Memory < 8*uint32(out.p.Threads) || out.p.Memory > maxArgonMemory {
		return argonHash{}, false
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argonHash{}, false
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return argonHash{}, false
	}
	if len(out.salt) < minArgonSalt || len(out.salt) > maxArgonSalt ||
		len(out.key) < minArgonKey || len(out.key) > maxArgonKey {
		return argonHash{}, false
	}
	return out, true
}

func verifyArgon2id(secret, encoded string) bool {
	ah, ok := parseArgon2id(encoded)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(secret), ah.salt, ah.p.Time, ah.p.Memory, ah.p.Threads, uint32(len(ah.key)))
	return subtle.ConstantTimeCompare(got, ah.key) == 1
}
