package calcd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimiter interface {
	// Take consumes one unit of a key's limit. It returns a boolean denoting
	// if the unit could be taken, or an error if a failure occurred in the
	// backing rate limit implementation.
	//
	// No error will be returned if the unit could not be taken as a result
	// of the requestor being over the limit.
	Take(ctx context.Context, key string) (bool, error)
}

// limitedKeys is a wrapper around a map that stores a truncated timestamp
// and a mutex. The map keeps track of rate limit keys and their used limits.
type limitedKeys struct {
	truncTS int64
	keys    map[string]int
	mtx     sync.Mutex
}

func newLimitedKeys(t int64) *limitedKeys {
	return &limitedKeys{
		truncTS: t,
		keys:    make(map[string]int),
	}
}

func (l *limitedKeys) Take(key string, max int) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	val := l.keys[key]
	l.keys[key] = val + 1
	return val < max
}

// MemoryRateLimiter stores all rate limiting state in local memory. It works
// by storing a limitedKeys struct that references the truncated timestamp at
// which the struct was created. If the current truncated timestamp doesn't
// match what's referenced, the limit is reset. This will never return an
// error.
type MemoryRateLimiter struct {
	currGeneration *limitedKeys
	dur            time.Duration
	max            int
	mtx            sync.Mutex
}

func NewMemoryRateLimiter(dur time.Duration, max int) RateLimiter {
	return &MemoryRateLimiter{
		dur: dur,
		max: max,
	}
}

func (m *MemoryRateLimiter) Take(ctx context.Context, key string) (bool, error) {
	m.mtx.Lock()
	truncTS := truncateNow(m.dur)

	if m.currGeneration == nil || m.currGeneration.truncTS != truncTS {
		m.currGeneration = newLimitedKeys(truncTS)
	}

	// Pull out the limiter so we can unlock before incrementing the limit.
	limiter := m.currGeneration

	m.mtx.Unlock()

	return limiter.Take(key, m.max), nil
}

// RedisRateLimiter stores rate limiting state in Redis using the basic
// fixed-window pattern: INCR on a key derived from the truncated timestamp,
// with a PEXPIRE one interval out.
type RedisRateLimiter struct {
	r      redis.UniversalClient
	dur    time.Duration
	max    int
	prefix string
}

func NewRedisRateLimiter(r redis.UniversalClient, dur time.Duration, max int, prefix string) RateLimiter {
	return &RedisRateLimiter{
		r:      r,
		dur:    dur,
		max:    max,
		prefix: prefix,
	}
}

func (r *RedisRateLimiter) Take(ctx context.Context, key string) (bool, error) {
	var incr *redis.IntCmd
	truncTS := truncateNow(r.dur)
	fullKey := fmt.Sprintf("rate_limit:%s:%s:%d", r.prefix, key, truncTS)
	_, err := r.r.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.PExpire(ctx, fullKey, r.dur-time.Millisecond)
		return nil
	})
	if err != nil {
		rateLimitTakeErrors.Inc()
		return false, err
	}

	return incr.Val()-1 < int64(r.max), nil
}

type noopRateLimiter struct{}

var NoopRateLimiter = &noopRateLimiter{}

func (n *noopRateLimiter) Take(ctx context.Context, key string) (bool, error) {
	return true, nil
}

// truncateNow truncates the current timestamp to the specified duration.
func truncateNow(dur time.Duration) int64 {
	return time.Now().Truncate(dur).Unix()
}

// FallbackRateLimiter is a combination of a primary and secondary rate
// limiter. If the primary rate limiter fails, due to an unexpected error, the
// secondary rate limiter will be used. This reduces reliance on a single
// Redis instance for rate limiting. If both fail, the request is not let
// through.
type FallbackRateLimiter struct {
	primary   RateLimiter
	secondary RateLimiter
}

func NewFallbackRateLimiter(primary RateLimiter, secondary RateLimiter) RateLimiter {
	return &FallbackRateLimiter{
		primary:   primary,
		secondary: secondary,
	}
}

func (r *FallbackRateLimiter) Take(ctx context.Context, key string) (bool, error) {
	if ok, err := r.primary.Take(ctx, key); err != nil {
		return r.secondary.Take(ctx, key)
	} else {
		return ok, err
	}
}
