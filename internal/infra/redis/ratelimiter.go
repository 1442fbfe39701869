package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	backoffStep              = 20 * time.Millisecond
	backoffMax               = 200 * time.Millisecond
	windowSeconds            = 1
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one-second window limiter shared by every API
// and worker process sending through the same transport. Mail relays usually
// throttle per account, so the window is keyed by transport, not by job.
type RedisRateLimiter struct {
	client       *goredis.Client
	defaultLimit int64
	limits       map[string]int64
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewRedisRateLimiter applies limitPerSec to every transport without an
// explicit entry in perTransport.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, perTransport map[string]int) (*RedisRateLimiter, error) {
	limiter, err := newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
	if err != nil {
		return nil, err
	}
	for transport, limit := range perTransport {
		limiter.SetLimit(transport, limit)
	}
	return limiter, nil
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:       client,
		defaultLimit: limitPerSec,
		limits:       make(map[string]int64),
		now:          nowFn,
		sleep:        sleepFn,
	}, nil
}

// SetLimit overrides the window size for one transport. Call it before the
// limiter is shared.
func (r *RedisRateLimiter) SetLimit(transport string, limitPerSec int) {
	key := normalizeTransport(transport)
	if key == "" || limitPerSec <= 0 {
		return
	}
	r.limits[key] = int64(limitPerSec)
}

func (r *RedisRateLimiter) limitFor(transport string) int64 {
	if limit, ok := r.limits[transport]; ok {
		return limit
	}
	return r.defaultLimit
}

func (r *RedisRateLimiter) Allow(ctx context.Context, transport string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key := normalizeTransport(transport)
	if key == "" {
		return false, fmt.Errorf("transport is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	window := fmt.Sprintf("notify:ratelimit:%s:%d", key, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{window}, r.limitFor(key), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *RedisRateLimiter) Wait(ctx context.Context, transport string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, transport)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff*2, backoffMax)
	}
}

func normalizeTransport(transport string) string {
	return strings.ToLower(strings.TrimSpace(transport))
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
