package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a keyed request is within quota.
type Limiter interface {
	Allow(key string) bool
}

// incrWindow bumps the counter and arms its expiry on first use, atomically.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

const (
	defaultRedisPrefix = "foundersforum:ratelimit"
	redisCallTimeout   = 2 * time.Second
)

// RedisLimiter counts requests per key in fixed windows stored in Redis, so
// every replica shares one quota.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisFixedWindowLimiter dials Redis lazily; the first Allow call opens
// the connection.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}, nil
}

// Allow reports whether key is within quota for the current window. Redis
// errors allow the request.
func (l *RedisLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()
	count, err := incrWindow.Run(ctx, l.client, []string{l.windowKey(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		slog.Warn("rate limiter unavailable", "prefix", l.prefix, "err", err)
		return true
	}
	return count <= l.limit
}

// Close releases the Redis connection pool.
func (l *RedisLimiter) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}

// windowKey is prefix:key:slot. Old slots expire on their own.
func (l *RedisLimiter) windowKey(key string) string {
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	slot := l.now().UnixMilli() / l.window.Milliseconds()
	return l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)
}
