package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process fixed-window limiter. Counters live in a map guarded by a mutex, which
// makes it correct for a single server process only.
type Memory struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start    time.Time
	attempts int
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an in-process limiter.
func NewMemory(cfg Config, opts ...MemoryOption) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Admit records an attempt for origin.
func (m *Memory) Admit(_ context.Context, origin string) (bool, time.Duration, error) {
	key := hashOriginHex(origin)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.start.Add(m.cfg.Window)) {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.attempts++
	if w.attempts > m.cfg.Threshold {
		return false, w.start.Add(m.cfg.Window).Sub(now), nil
	}
	return true, 0, nil
}

// Reset forgets origin's window.
func (m *Memory) Reset(_ context.Context, origin string) error {
	key := hashOriginHex(origin)
	m.mu.Lock()
	delete(m.windows, key)
	m.mu.Unlock()
	return nil
}

// Prune drops expired windows and returns how many were removed.
func (m *Memory) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.start.Add(m.cfg.Window)) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Janitor prunes expired windows every interval until ctx is done.
func (m *Memory) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.Window
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune()
		}
	}
}
