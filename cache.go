package calcd

import (
	"context"
	"strconv"
	"time"

	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Cache stores string values by key. Get returns the empty string on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
}

type memoryCache struct {
	lru *lru.Cache
}

func newMemoryCache(maxEntries int) *memoryCache {
	// error only fires on a non-positive size, which the config validation
	// rules out
	c, _ := lru.New(maxEntries)
	return &memoryCache{lru: c}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	if val, ok := c.lru.Get(key); ok {
		return val.(string), nil
	}
	return "", nil
}

func (c *memoryCache) Put(ctx context.Context, key string, value string) error {
	c.lru.Add(key, value)
	return nil
}

type redisCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newRedisCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *redisCache {
	return &redisCache{rdb, prefix, ttl}
}

func (c *redisCache) namespaced(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.namespaced(key)).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		RecordCacheError("redis")
		return "", err
	}
	return val, nil
}

func (c *redisCache) Put(ctx context.Context, key string, value string) error {
	err := c.rdb.SetEx(ctx, c.namespaced(key), value, c.ttl).Err()
	if err != nil {
		RecordCacheError("redis")
	}
	return err
}

// cacheWithCompression snappy-compresses values before they hit the backing
// cache.
type cacheWithCompression struct {
	cache Cache
}

func newCacheWithCompression(cache Cache) *cacheWithCompression {
	return &cacheWithCompression{cache}
}

func (c *cacheWithCompression) Get(ctx context.Context, key string) (string, error) {
	encVal, err := c.cache.Get(ctx, key)
	if err != nil || encVal == "" {
		return "", err
	}
	val, err := snappy.Decode(nil, []byte(encVal))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (c *cacheWithCompression) Put(ctx context.Context, key string, value string) error {
	encVal := snappy.Encode(nil, []byte(value))
	return c.cache.Put(ctx, key, string(encVal))
}

// fallbackCache uses a secondary cache when the primary errors.
type fallbackCache struct {
	primary   Cache
	secondary Cache
}

func newFallbackCache(primary Cache, secondary Cache) *fallbackCache {
	return &fallbackCache{primary: primary, secondary: secondary}
}

func (c *fallbackCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.primary.Get(ctx, key)
	if err != nil {
		return c.secondary.Get(ctx, key)
	}
	return val, nil
}

func (c *fallbackCache) Put(ctx context.Context, key string, value string) error {
	if err := c.primary.Put(ctx, key, value); err != nil {
		return c.secondary.Put(ctx, key, value)
	}
	return nil
}

// ResultCache memoizes evaluated calculation results. Keys include the
// calculation's updated_at so input updates invalidate naturally.
type ResultCache struct {
	cache Cache
}

func NewResultCache(cache Cache) *ResultCache {
	return &ResultCache{cache: cache}
}

func resultCacheKey(c *Calculation) string {
	return "result:" + c.ID.String() + ":" + strconv.FormatInt(c.UpdatedAt.UnixNano(), 10)
}

// ResultFor returns the cached result for c, computing and caching it on a
// miss. Cache failures degrade to plain evaluation.
func (rc *ResultCache) ResultFor(ctx context.Context, c *Calculation) (float64, error) {
	key := resultCacheKey(c)
	if val, err := rc.cache.Get(ctx, key); err == nil && val != "" {
		if res, perr := strconv.ParseFloat(val, 64); perr == nil {
			RecordCacheHit("result")
			return res, nil
		}
	}
	RecordCacheMiss("result")

	res, err := c.Result()
	if err != nil {
		return 0, err
	}
	// best effort; the value is recomputable
	_ = rc.cache.Put(ctx, key, strconv.FormatFloat(res, 'g', -1, 64))
	return res, nil
}
