package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter, starts the window on the
// first hit, and returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares fixed windows across processes through Redis. It has
// the same admission semantics as Limiter.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	clock  Clock
}

// NewRedisLimiter creates a limiter storing windows under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, clock Clock) *RedisLimiter {
	if clock == nil {
		clock = systemClock{}
	}
	if prefix == "" {
		prefix = "docrelay:ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, clock: clock}
}

// Admit implements Admitter.
func (r *RedisLimiter) Admit(ctx context.Context, key string, opts Options) (Admission, error) {
	opts = opts.Normalize()
	now := r.clock.Now()

	vals, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, opts.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return Admission{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}

	resetAt := now.Add(time.Duration(vals[1]) * time.Millisecond)
	return admission(int(vals[0]), opts.MaxRequests, resetAt, now), nil
}

var _ Admitter = (*RedisLimiter)(nil)
