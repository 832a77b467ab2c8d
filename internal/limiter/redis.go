package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript increments the origin's counter and starts its expiry on the first attempt of a
// window. It returns the new count and the remaining window in milliseconds.
var admitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisClient is the subset of *redis.Client used by the limiter.
type RedisClient interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a fixed-window limiter whose counters live in Redis, shared across processes.
type Redis struct {
	rdb    RedisClient
	cfg    Config
	prefix string
}

// NewRedis constructs a Redis-backed limiter. Keys are "<prefix><sha256(origin)>".
func NewRedis(rdb RedisClient, cfg Config, prefix string) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ogf:login:"
	}
	return &Redis{rdb: rdb, cfg: cfg, prefix: prefix}, nil
}

func (l *Redis) key(origin string) string { return l.prefix + hashOriginHex(origin) }

// Admit records an attempt for origin.
func (l *Redis) Admit(ctx context.Context, origin string) (bool, time.Duration, error) {
	res, err := admitScript.Run(ctx, l.rdb, []string{l.key(origin)}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("limiter: redis admit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("limiter: redis admit: unexpected reply %v", res)
	}
	if res[0] > int64(l.cfg.Threshold) {
		return false, time.Duration(res[1]) * time.Millisecond, nil
	}
	return true, 0, nil
}

// Reset forgets origin's window.
func (l *Redis) Reset(ctx context.Context, origin string) error {
	if err := l.rdb.Del(ctx, l.key(origin)).Err(); err != nil {
		return fmt.Errorf("limiter: redis reset: %w", err)
	}
	return nil
}
