package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		EnvHTTPAddr, EnvPostgresDSN, EnvDatabaseURL, EnvLocatorBackend, EnvDefaultRadiusKM,
		EnvQueryTimeoutMS, EnvEvalTimeoutMS, EnvSearchWorkers, EnvCacheEnabled,
		EnvCacheQuantumMin, EnvCacheTTLSec, EnvInvalidationSubject,
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	require.Equal(t, BackendMemory, cfg.LocatorBackend)
	require.Equal(t, DefaultRadiusKM, cfg.DefaultRadiusKM)
	require.Equal(t, 2*time.Second, cfg.QueryTimeout)
	require.Equal(t, time.Second, cfg.EvalTimeout)
	require.Equal(t, 8, cfg.SearchWorkers)
	require.True(t, cfg.CacheEnabled)
	require.Equal(t, 30*time.Minute, cfg.CacheQuantum)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, DefaultSubject, cfg.InvalidationSubject)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://localhost/stash")
	t.Setenv(EnvLocatorBackend, "")
	t.Setenv(EnvDBMaxOpenConns, "4")
	t.Setenv(EnvSearchWorkers, "16")
	t.Setenv(EnvEvalTimeoutMS, "250")
	t.Setenv(EnvCacheEnabled, "false")
	t.Setenv(EnvCacheTTLSec, "60")
	t.Setenv(EnvDefaultRadiusKM, "not-a-number")
	t.Setenv(EnvQueryTimeoutMS, "")

	cfg := Load()
	require.Equal(t, BackendPostgres, cfg.LocatorBackend)
	require.Equal(t, 4, cfg.SearchWorkers, "workers are capped at the pool size")
	require.Equal(t, 250*time.Millisecond, cfg.EvalTimeout)
	require.False(t, cfg.CacheEnabled)
	require.Equal(t, time.Minute, cfg.CacheTTL)
	require.Equal(t, DefaultRadiusKM, cfg.DefaultRadiusKM)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Config{
		LocatorBackend:  BackendRedis,
		DBMaxOpenConns:  10,
		DefaultRadiusKM: 0,
		QueryTimeout:    time.Second,
		EvalTimeout:     time.Second,
		SearchWorkers:   0,
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), EnvRedisAddr)
	require.Contains(t, err.Error(), EnvDefaultRadiusKM)
	require.Contains(t, err.Error(), EnvSearchWorkers)

	cfg.LocatorBackend = "mongo"
	require.ErrorContains(t, cfg.Validate(), EnvLocatorBackend)
}
