package calcd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	*t = TOMLDuration(d)
	return nil
}

type ServerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	MaxBodySizeBytes int64  `toml:"max_body_size_bytes"`
	// MaxConcurrentRequests=0 allows unlimited in-flight requests.
	MaxConcurrentRequests int64 `toml:"max_concurrent_requests"`

	// TimeoutSeconds specifies the maximum time spent serving an HTTP request.
	TimeoutSeconds int `toml:"timeout_seconds"`

	LogLevel         string   `toml:"log_level"`
	EnableRequestLog bool     `toml:"enable_request_log"`
	AllowAllOrigins  bool     `toml:"allow_all_origins"`
	AllowedOrigins   []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	// URL supports `$ENV_VAR` indirection so credentials stay out of config
	// files.
	URL            string `toml:"url"`
	MaxConns       int32  `toml:"max_conns"`
	MigrateOnStart bool   `toml:"migrate_on_start"`
}

type RedisConfig struct {
	URL              string `toml:"url"`
	Namespace        string `toml:"namespace"`
	FallbackToMemory bool   `toml:"fallback_to_memory"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type CacheConfig struct {
	Enabled          bool         `toml:"enabled"`
	TTL              TOMLDuration `toml:"ttl"`
	MaxMemoryEntries int          `toml:"max_memory_entries"`
}

type RateLimitConfig struct {
	Enabled          bool         `toml:"enabled"`
	UseRedis         bool         `toml:"use_redis"`
	BaseRate         int          `toml:"base_rate"`
	BaseInterval     TOMLDuration `toml:"base_interval"`
	ExemptUserAgents []string     `toml:"exempt_user_agents"`
	ErrorMessage     string       `toml:"error_message"`
	IPHeaderOverride string       `toml:"ip_header_override"`
}

type AuthConfig struct {
	// JWTSecret supports `$ENV_VAR` indirection.
	JWTSecret  string       `toml:"jwt_secret"`
	TokenTTL   TOMLDuration `toml:"token_ttl"`
	BcryptCost int          `toml:"bcrypt_cost"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Cache     CacheConfig     `toml:"cache"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Auth      AuthConfig      `toml:"auth"`
}

func ReadConfig(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, wrapErr(err, "failed to read config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	defaultTokenTTL         = 24 * time.Hour
	defaultCacheTTL         = time.Hour
	defaultMaxMemoryEntries = 1024
	defaultMaxBodySizeBytes = 1024 * 1024
	defaultRateInterval     = time.Second
)

// Validate checks required fields and fills defaults in place.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return errors.New("server port must be set")
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MaxBodySizeBytes == 0 {
		c.Server.MaxBodySizeBytes = defaultMaxBodySizeBytes
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth jwt_secret must be set")
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = TOMLDuration(defaultTokenTTL)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.BaseRate <= 0 {
			return errors.New("base_rate in rate_limit must be > 0")
		}
		if c.RateLimit.BaseInterval == 0 {
			c.RateLimit.BaseInterval = TOMLDuration(defaultRateInterval)
		}
		if c.RateLimit.UseRedis && c.Redis.URL == "" {
			return errors.New("must specify a redis URL if use_redis is true in rate_limit config")
		}
	}

	if c.Cache.Enabled {
		if c.Cache.TTL == 0 {
			c.Cache.TTL = TOMLDuration(defaultCacheTTL)
		}
		if c.Cache.MaxMemoryEntries < 0 {
			return errors.New("max_memory_entries in cache must be >= 0")
		}
		if c.Cache.MaxMemoryEntries == 0 {
			c.Cache.MaxMemoryEntries = defaultMaxMemoryEntries
		}
	}

	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return errors.New("metrics is enabled but port is missing")
	}

	return nil
}

// ReadFromEnvOrConfig resolves `$VAR` references to environment variables.
// A leading backslash escapes a literal dollar sign.
func ReadFromEnvOrConfig(value string) (string, error) {
	if strings.HasPrefix(value, "$") {
		envValue := os.Getenv(strings.TrimPrefix(value, "$"))
		if envValue == "" {
			return "", fmt.Errorf("config env var %s not found", value)
		}
		return envValue, nil
	}

	if strings.HasPrefix(value, "\\") {
		return strings.TrimPrefix(value, "\\"), nil
	}

	return value, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
