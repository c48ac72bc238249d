package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces limiter keys next to the session keys.
const DefaultPrefix = "bff:rl:"

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares its counters across replicas. When Redis is unreachable
// it degrades to Fallback, or lets the request through when Fallback is nil.
type RedisLimiter struct {
	Client   redis.UniversalClient
	Window   time.Duration
	Prefix   string
	Fallback Limiter

	logger *slog.Logger
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter with an in-memory fallback.
func NewRedis(client redis.UniversalClient, win time.Duration, logger *slog.Logger) *RedisLimiter {
	if win <= 0 {
		win = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		Client:   client,
		Window:   win,
		Prefix:   DefaultPrefix,
		Fallback: NewInMemory(win),
		logger:   logger,
		now:      time.Now,
	}
}

// Allow records a hit for key in Redis.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	if l.Client == nil {
		return l.fallback(ctx, key, limit)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := rateLimitScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Window.Milliseconds()).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("rate limiter redis unavailable, using fallback", slog.String("error", err.Error()))
		}
		return l.fallback(ctx, key, limit)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback(ctx, key, limit)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.Window.Milliseconds()
	}

	return decide(int(count), limit, l.clock().UTC().Add(time.Duration(ttlMs)*time.Millisecond))
}

func (l *RedisLimiter) fallback(ctx context.Context, key string, limit int) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(ctx, key, limit)
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: l.clock().UTC().Add(l.Window)}
}

func (l *RedisLimiter) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
