package calcd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(2)

	val, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, "", val)

	require.NoError(t, c.Put(ctx, "a", "1"))
	require.NoError(t, c.Put(ctx, "b", "2"))
	require.NoError(t, c.Put(ctx, "c", "3"))

	// "a" was evicted by the LRU
	val, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "", val)

	val, err = c.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "3", val)
}

func TestRedisCache(t *testing.T) {
	redisServer, err := miniredis.Run()
	require.NoError(t, err)
	defer redisServer.Close()

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("127.0.0.1:%s", redisServer.Port()),
	})

	ctx := context.Background()
	c := newRedisCache(client, "test", time.Hour)

	val, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, "", val)

	require.NoError(t, c.Put(ctx, "a", "1"))
	val, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", val)

	// keys are namespaced
	require.True(t, redisServer.Exists("test:a"))
}

func TestCacheWithCompression(t *testing.T) {
	ctx := context.Background()
	c := newCacheWithCompression(newMemoryCache(8))

	require.NoError(t, c.Put(ctx, "key", "uncompressed value"))
	val, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "uncompressed value", val)

	val, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, "", val)
}

type errorCache struct{}

func (e *errorCache) Get(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("test error")
}

func (e *errorCache) Put(ctx context.Context, key string, value string) error {
	return fmt.Errorf("test error")
}

func TestFallbackCache(t *testing.T) {
	ctx := context.Background()
	c := newFallbackCache(&errorCache{}, newMemoryCache(8))

	require.NoError(t, c.Put(ctx, "a", "1"))
	val, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", val)
}

func TestResultCache(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(newMemoryCache(8))

	calc, err := NewCalculation(CalculationAddition, uuid.New(), []float64{1, 2, 3})
	require.NoError(t, err)

	res, err := rc.ResultFor(ctx, calc)
	require.NoError(t, err)
	require.Equal(t, 6.0, res)

	// cached value round-trips
	res, err = rc.ResultFor(ctx, calc)
	require.NoError(t, err)
	require.Equal(t, 6.0, res)

	// updating inputs changes the key, so the stale entry is never served
	calc.Inputs = []float64{5, 5}
	calc.UpdatedAt = calc.UpdatedAt.Add(time.Second)
	res, err = rc.ResultFor(ctx, calc)
	require.NoError(t, err)
	require.Equal(t, 10.0, res)
}

func TestResultCacheDegradesOnErrors(t *testing.T) {
	ctx := context.Background()
	rc := NewResultCache(&errorCache{})

	calc, err := NewCalculation(CalculationMultiplication, uuid.New(), []float64{4, 5})
	require.NoError(t, err)

	res, err := rc.ResultFor(ctx, calc)
	require.NoError(t, err)
	require.Equal(t, 20.0, res)
}
