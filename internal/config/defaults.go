package config

import "time"

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

const (
	DefaultHTTPAddr        = ":8080"
	DefaultDBMaxOpenConns  = 10
	DefaultRadiusKM        = 10.0
	DefaultQueryTimeout    = 2 * time.Second
	DefaultEvalTimeout     = time.Second
	DefaultSearchWorkers   = 8
	DefaultCacheQuantum    = 30 * time.Minute
	DefaultCacheTTL        = 5 * time.Minute
	DefaultSubject         = "stashpoint.capacity.changed"
	DefaultRateReadRPS     = 50.0
	DefaultRateReadBurst   = 100.0
	DefaultShutdownTimeout = 10 * time.Second
)
