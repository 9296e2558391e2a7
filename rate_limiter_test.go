package calcd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRateLimiters(t *testing.T) {
	redisServer, err := miniredis.Run()
	require.NoError(t, err)
	defer redisServer.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("127.0.0.1:%s", redisServer.Port()),
	})

	max := 2
	lims := []struct {
		name string
		rl   RateLimiter
	}{
		{"memory", NewMemoryRateLimiter(2*time.Second, max)},
		{"redis", NewRedisRateLimiter(redisClient, 2*time.Second, max, "")},
		{"fallback", NewFallbackRateLimiter(NewMemoryRateLimiter(2*time.Second, max), NewRedisRateLimiter(redisClient, 2*time.Second, max, ""))},
	}

	for _, cfg := range lims {
		rl := cfg.rl
		ctx := context.Background()
		t.Run(cfg.name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				ok, err := rl.Take(ctx, "foo")
				require.NoError(t, err)
				require.Equal(t, i < max, ok)
				ok, err = rl.Take(ctx, "bar")
				require.NoError(t, err)
				require.Equal(t, i < max, ok)
			}
			time.Sleep(2 * time.Second)
			for i := 0; i < 4; i++ {
				ok, _ := rl.Take(ctx, "foo")
				require.Equal(t, i < max, ok)
				ok, _ = rl.Take(ctx, "bar")
				require.Equal(t, i < max, ok)
			}
		})
	}
}

type errorLimiter struct{}

func (e *errorLimiter) Take(ctx context.Context, key string) (bool, error) {
	return false, fmt.Errorf("test error")
}

var _ RateLimiter = &errorLimiter{}

func TestFallbackRateLimiter(t *testing.T) {
	shouldSucceed := []RateLimiter{
		NewFallbackRateLimiter(NoopRateLimiter, NoopRateLimiter),
		NewFallbackRateLimiter(NoopRateLimiter, &errorLimiter{}),
		NewFallbackRateLimiter(&errorLimiter{}, NoopRateLimiter),
	}

	shouldFail := []RateLimiter{
		NewFallbackRateLimiter(&errorLimiter{}, &errorLimiter{}),
	}

	ctx := context.Background()
	for _, rl := range shouldSucceed {
		ok, err := rl.Take(ctx, "foo")
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, rl := range shouldFail {
		ok, err := rl.Take(ctx, "foo")
		require.Error(t, err)
		require.False(t, ok)
	}
}
