package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opengovfood/opengovfood/internal/crypto"
	"github.com/opengovfood/opengovfood/internal/limiter"
	"github.com/opengovfood/opengovfood/internal/model"
	"github.com/opengovfood/opengovfood/internal/repository/sqlite"
	"github.com/opengovfood/opengovfood/internal/token"
	"go.uber.org/zap/zaptest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingRecorder collects recorder calls.
type countingRecorder struct {
	mu        sync.Mutex
	logins    map[string]int
	decisions map[string]int
	failures  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{logins: map[string]int{}, decisions: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) Login(o string)       { r.mu.Lock(); r.logins[o]++; r.mu.Unlock() }
func (r *countingRecorder) Decision(o string)    { r.mu.Lock(); r.decisions[o]++; r.mu.Unlock() }
func (r *countingRecorder) AuthFailure(o string) { r.mu.Lock(); r.failures[o]++; r.mu.Unlock() }

type env struct {
	auth  *AuthServiceImpl
	items *ItemServiceImpl
	codec *token.Codec
	clock *testClock
	rec   *countingRecorder
	db    *sqlite.DB
}

const testTTL = 60 * time.Minute

func newEnv(t *testing.T, opts ...AuthOption) *env {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "svc.db"), log)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	hasher, err := crypto.NewHasher(crypto.WithArgon2Params(crypto.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	codec, err := token.New(testSecret, token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	lim, err := limiter.NewMemory(limiter.Config{Threshold: 5, Window: time.Minute}, limiter.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	rec := newCountingRecorder()
	m := sqlite.NewManager(db, sqlite.WithLogger(log))

	base := []AuthOption{WithLogger(log), WithRecorder(rec)}
	auth := NewAuthService(m, hasher, codec, lim, testTTL, append(base, opts...)...)
	items := NewItemService(m, auth.Resolver(), NewGate(log, rec), log)
	return &env{auth: auth, items: items, codec: codec, clock: clock, rec: rec, db: db}
}

// tamperSignature flips the first signature character of a compact JWS.
func tamperSignature(tok string) string {
	i := strings.LastIndexByte(tok, '.') + 1
	c := byte('A')
	if tok[i] == 'A' {
		c = 'B'
	}
	return tok[:i] + string(c) + tok[i+1:]
}

// register creates a user and returns a fresh access token for it.
func (e *env) register(t *testing.T, email, password string) (*model.User, string) {
	t.Helper()
	ctx := context.Background()
	u, err := e.auth.Register(ctx, email, password, "")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	tok, err := e.auth.Login(ctx, email, password, "setup-"+email)
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return u, tok.AccessToken
}
