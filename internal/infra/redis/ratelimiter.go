package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/mail-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix                = "mail-dispatch:ratelimit"
	defaultLimitPerSec int64 = 10
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
)

// takeScript charges every window in KEYS or none of them. ARGV holds one limit
// per key followed by the window TTL. It returns 0 when the slot is taken, or
// the 1-based index of the first full window.
var takeScript = goredis.NewScript(`
local ttl = ARGV[#ARGV]
for i, key in ipairs(KEYS) do
  local current = tonumber(redis.call("GET", key) or "0")
  if current >= tonumber(ARGV[i]) then
    return i
  end
end
for _, key in ipairs(KEYS) do
  if redis.call("INCR", key) == 1 then
    redis.call("EXPIRE", key, ttl)
  end
end
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Limits are sends per second. PerSecond caps the whole account; a positive
// PerDomainPerSecond also caps each recipient domain.
type Limits struct {
	PerSecond          int
	PerDomainPerSecond int
}

// RedisRateLimiter is a fixed-window per-second limiter backed by Redis, shared by
// every worker process that sends through the same email account.
type RedisRateLimiter struct {
	client         *goredis.Client
	limitPerSec    int64
	domainLimitSec int64
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	script         *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, limits Limits) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limits, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limits Limits,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	limitPerSec := int64(limits.PerSecond)
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	domainLimit := int64(limits.PerDomainPerSecond)
	if domainLimit < 0 {
		domainLimit = 0
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:         client,
		limitPerSec:    limitPerSec,
		domainLimitSec: domainLimit,
		now:            nowFn,
		sleep:          sleepFn,
		script:         takeScript,
	}, nil
}

// Allow takes one slot in the current window for scope without blocking. A
// scope carrying a recipient domain also needs a slot in that domain's window.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	base, domain := ratelimit.SplitScope(scope)
	if base == "" {
		return false, fmt.Errorf("rate limit scope is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now()
	keys := []string{windowKey(base, now)}
	args := []any{r.limitPerSec}
	if domain != "" && r.domainLimitSec > 0 {
		keys = append(keys, windowKey(base+":"+domain, now))
		args = append(args, r.domainLimitSec)
	}
	args = append(args, windowSeconds)

	full, err := r.script.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return full == 0, nil
}

// Wait blocks until scope has a free slot or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func windowKey(scope string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, scope, now.UTC().Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
