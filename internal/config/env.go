package config

const (
	EnvHTTPAddr        = "HTTP_ADDR"
	EnvPostgresDSN     = "POSTGRES_DSN"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvDBMaxOpenConns  = "DB_MAX_OPEN_CONNS"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvNATSURL         = "NATS_URL"
	EnvLocatorBackend  = "LOCATOR_BACKEND"
	EnvDefaultRadiusKM = "DEFAULT_RADIUS_KM"

	EnvQueryTimeoutMS = "QUERY_TIMEOUT_MS"
	EnvEvalTimeoutMS  = "EVAL_TIMEOUT_MS"
	EnvSearchWorkers  = "SEARCH_WORKERS"

	EnvCacheEnabled    = "CACHE_ENABLED"
	EnvCacheQuantumMin = "CACHE_QUANTUM_MIN"
	EnvCacheTTLSec     = "CACHE_TTL_SEC"

	EnvInvalidationSubject = "INVALIDATION_SUBJECT"
	EnvJWTSecret           = "JWT_SECRET"

	EnvRateReadRPS   = "RATE_READ_RPS"
	EnvRateReadBurst = "RATE_READ_BURST"

	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)
