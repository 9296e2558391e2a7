package calcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func SetLogLevel(logLevel slog.Leveler) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(
		os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
}

type options struct {
	store Store
}

type Option func(*options)

// WithStore overrides the Postgres store, letting tests boot the full
// service against a MemoryStore.
func WithStore(store Store) Option {
	return func(o *options) {
		o.store = store
	}
}

const migrateLockTTL = 30 * time.Second

// Start wires the service from config and begins serving. It returns the
// server plus a shutdown func that drains HTTP and closes the store.
func Start(config *Config, opts ...Option) (*Server, func(), error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// redis client
	var redisClient redis.UniversalClient
	if config.Redis.URL != "" {
		rURL, err := ReadFromEnvOrConfig(config.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		redisClient, err = NewRedisClient(rURL)
		if err != nil {
			return nil, nil, err
		}
		if err := CheckRedisConnection(redisClient); err != nil {
			if config.Redis.FallbackToMemory {
				slog.Warn("failed to connect to redis, may fall back to in-memory cache", "err", err)
			} else {
				return nil, nil, err
			}
		}
	}

	if redisClient == nil && config.RateLimit.UseRedis {
		return nil, nil, errors.New("must specify a redis URL if use_redis is true in rate limit config")
	}

	// store
	store := o.store
	if store == nil {
		if config.Database.URL == "" {
			return nil, nil, errors.New("database url must be set")
		}
		dbURL, err := ReadFromEnvOrConfig(config.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		pg, err := NewPGStore(context.Background(), dbURL, config.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		store = pg
	}

	if config.Database.MigrateOnStart {
		if err := migrate(store, redisClient); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	// result cache
	var results *ResultCache
	if config.Cache.Enabled {
		var cache Cache
		if redisClient == nil {
			slog.Warn("redis is not configured, using in-memory cache")
			cache = newMemoryCache(config.Cache.MaxMemoryEntries)
		} else {
			cache = newRedisCache(redisClient, config.Redis.Namespace, time.Duration(config.Cache.TTL))
			if config.Redis.FallbackToMemory {
				cache = newFallbackCache(cache, newMemoryCache(config.Cache.MaxMemoryEntries))
			}
		}
		results = NewResultCache(newCacheWithCompression(cache))
	}

	// rate limiter
	limiter := RateLimiter(NoopRateLimiter)
	if config.RateLimit.Enabled {
		dur := time.Duration(config.RateLimit.BaseInterval)
		if config.RateLimit.UseRedis {
			limiter = NewRedisRateLimiter(redisClient, dur, config.RateLimit.BaseRate, config.Redis.Namespace)
			if config.Redis.FallbackToMemory {
				limiter = NewFallbackRateLimiter(
					limiter,
					NewMemoryRateLimiter(dur, config.RateLimit.BaseRate),
				)
			}
		} else {
			limiter = NewMemoryRateLimiter(dur, config.RateLimit.BaseRate)
		}
	}

	jwtSecret, err := ReadFromEnvOrConfig(config.Auth.JWTSecret)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	issuer := NewTokenIssuer(jwtSecret, time.Duration(config.Auth.TokenTTL))

	srv, err := NewServer(
		store,
		issuer,
		results,
		limiter,
		config.Server,
		config.RateLimit,
		config.Auth.BcryptCost,
	)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("error creating server: %w", err)
	}

	if config.Metrics.Enabled {
		addr := fmt.Sprintf("%s:%d", config.Metrics.Host, config.Metrics.Port)
		slog.Info("starting metrics server", "addr", addr)
		go func() {
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				slog.Error("error starting metrics server", "err", err)
			}
		}()
	}

	errC := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(config.Server.Host, config.Server.Port); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				slog.Info("http server shut down")
				return
			}
			errC <- err
		}
	}()

	// give the listener goroutine a beat to surface startup errors, so tests
	// and callers fail fast on a busy port
	select {
	case err := <-errC:
		store.Close()
		return nil, nil, err
	case <-time.After(10 * time.Millisecond):
	}

	slog.Info("started calcd", "host", config.Server.Host, "port", config.Server.Port)

	shutdownFunc := func() {
		slog.Info("shutting down calcd")
		srv.Shutdown()
		store.Close()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				slog.Error("error closing redis client", "err", err)
			}
		}
		slog.Info("goodbye")
	}

	return srv, shutdownFunc, nil
}

// migrate applies schema migrations. With Redis configured it takes a
// distributed mutex first so concurrently starting replicas don't race the
// DDL.
func migrate(store Store, redisClient redis.UniversalClient) error {
	migrator, ok := store.(Migrator)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateLockTTL)
	defer cancel()

	if redisClient != nil {
		rs := redsync.New(goredis.NewPool(redisClient))
		mutex := rs.NewMutex("calcd:migrate", redsync.WithExpiry(migrateLockTTL))
		if err := mutex.LockContext(ctx); err != nil {
			return wrapErr(err, "failed to acquire migration lock")
		}
		defer func() {
			if _, err := mutex.UnlockContext(ctx); err != nil {
				slog.Warn("failed to release migration lock", "err", err)
			}
		}()
	}

	slog.Info("applying schema migrations")
	return migrator.Migrate(ctx)
}
