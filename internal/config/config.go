// Package config reads the search service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr        string
	PostgresDSN     string
	DBMaxOpenConns  int
	RedisAddr       string
	NATSURL         string
	LocatorBackend  string
	DefaultRadiusKM float64

	QueryTimeout time.Duration
	EvalTimeout  time.Duration
	// SearchWorkers is already capped at DBMaxOpenConns when Postgres serves
	// capacity evaluation.
	SearchWorkers int

	CacheEnabled bool
	CacheQuantum time.Duration
	CacheTTL     time.Duration

	InvalidationSubject string
	JWTSecret           string

	RateReadRPS   float64
	RateReadBurst float64

	ShutdownTimeout time.Duration
}

// Load reads the environment, falling back to defaults for unset or
// unparsable values. The backend defaults to postgres when a DSN is set,
// otherwise memory.
func Load() Config {
	cfg := Config{
		HTTPAddr:            getenv(EnvHTTPAddr, DefaultHTTPAddr),
		PostgresDSN:         firstNonEmpty(os.Getenv(EnvPostgresDSN), os.Getenv(EnvDatabaseURL)),
		DBMaxOpenConns:      parseIntEnv(EnvDBMaxOpenConns, DefaultDBMaxOpenConns),
		RedisAddr:           os.Getenv(EnvRedisAddr),
		NATSURL:             os.Getenv(EnvNATSURL),
		LocatorBackend:      strings.ToLower(os.Getenv(EnvLocatorBackend)),
		DefaultRadiusKM:     parseFloatEnv(EnvDefaultRadiusKM, DefaultRadiusKM),
		QueryTimeout:        parseMillisEnv(EnvQueryTimeoutMS, DefaultQueryTimeout),
		EvalTimeout:         parseMillisEnv(EnvEvalTimeoutMS, DefaultEvalTimeout),
		SearchWorkers:       parseIntEnv(EnvSearchWorkers, DefaultSearchWorkers),
		CacheEnabled:        parseBoolEnv(EnvCacheEnabled, true),
		CacheQuantum:        time.Duration(parseIntEnv(EnvCacheQuantumMin, int(DefaultCacheQuantum/time.Minute))) * time.Minute,
		CacheTTL:            time.Duration(parseIntEnv(EnvCacheTTLSec, int(DefaultCacheTTL/time.Second))) * time.Second,
		InvalidationSubject: getenv(EnvInvalidationSubject, DefaultSubject),
		JWTSecret:           os.Getenv(EnvJWTSecret),
		RateReadRPS:         parseFloatEnv(EnvRateReadRPS, DefaultRateReadRPS),
		RateReadBurst:       parseFloatEnv(EnvRateReadBurst, DefaultRateReadBurst),
		ShutdownTimeout:     parseDurationEnv(EnvShutdownTimeout, DefaultShutdownTimeout),
	}
	if cfg.LocatorBackend == "" {
		cfg.LocatorBackend = BackendMemory
		if cfg.PostgresDSN != "" {
			cfg.LocatorBackend = BackendPostgres
		}
	}
	if cfg.PostgresDSN != "" && cfg.DBMaxOpenConns > 0 && cfg.SearchWorkers > cfg.DBMaxOpenConns {
		cfg.SearchWorkers = cfg.DBMaxOpenConns
	}
	return cfg
}

// Validate reports every problem at once.
func (cfg Config) Validate() error {
	var problems []string
	switch cfg.LocatorBackend {
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			problems = append(problems, fmt.Sprintf("%s or %s is required for the postgres backend", EnvPostgresDSN, EnvDatabaseURL))
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			problems = append(problems, fmt.Sprintf("%s is required for the redis backend", EnvRedisAddr))
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("%s must be one of postgres, redis, memory, got %q", EnvLocatorBackend, cfg.LocatorBackend))
	}
	if cfg.DBMaxOpenConns <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive, got %d", EnvDBMaxOpenConns, cfg.DBMaxOpenConns))
	}
	if cfg.DefaultRadiusKM <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive, got %v", EnvDefaultRadiusKM, cfg.DefaultRadiusKM))
	}
	if cfg.QueryTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive, got %s", EnvQueryTimeoutMS, cfg.QueryTimeout))
	}
	if cfg.EvalTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive, got %s", EnvEvalTimeoutMS, cfg.EvalTimeout))
	}
	if cfg.SearchWorkers <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive, got %d", EnvSearchWorkers, cfg.SearchWorkers))
	}
	if cfg.CacheEnabled {
		if cfg.CacheQuantum <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %s", EnvCacheQuantumMin, cfg.CacheQuantum))
		}
		if cfg.CacheTTL <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %s", EnvCacheTTLSec, cfg.CacheTTL))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// LogFields summarises the configuration without secrets.
func (cfg Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("locator_backend", cfg.LocatorBackend),
		zap.Bool("postgres", cfg.PostgresDSN != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("nats", cfg.NATSURL != ""),
		zap.Int("search_workers", cfg.SearchWorkers),
		zap.Duration("query_timeout", cfg.QueryTimeout),
		zap.Duration("eval_timeout", cfg.EvalTimeout),
		zap.Bool("cache_enabled", cfg.CacheEnabled),
		zap.Duration("cache_quantum", cfg.CacheQuantum),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("jwt_secret_set", cfg.JWTSecret != ""),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseMillisEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
