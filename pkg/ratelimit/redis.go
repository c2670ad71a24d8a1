package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
)

// tokenBucket refills lazily from the stored timestamp and takes one token.
// KEYS[1] bucket; ARGV capacity, tokens per ms, now (ms), ttl (ms).
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ttl)
return allowed
`)

// RedisLimiter keeps buckets in Redis so replicas share one budget per key.
// The script runs atomically, which gives each key its own critical section.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	cfg    Config
	clock  clock.Clock
}

func NewRedisLimiter(client redis.Scripter, prefix string, cfg Config, clk clock.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, cfg: cfg, clock: clock.Or(clk)}
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, key string) (bool, error) {
	// A bucket left alone for a full refill is indistinguishable from a new one.
	ttl := max(l.cfg.Interval()*time.Duration(l.cfg.Capacity), time.Second)

	n, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.Capacity,
		strconv.FormatFloat(l.cfg.perMillisecond(), 'f', -1, 64),
		l.clock.Now().UnixMilli(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return n == 1, nil
}
