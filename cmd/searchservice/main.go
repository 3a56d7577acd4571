package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/stashlite/internal/auth"
	"github.com/example/stashlite/internal/config"
	"github.com/example/stashlite/internal/http/middleware"
	"github.com/example/stashlite/internal/stash/cache"
	"github.com/example/stashlite/internal/stash/capacity"
	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/stash/handler"
	"github.com/example/stashlite/internal/stash/invalidation"
	"github.com/example/stashlite/internal/stash/locator"
	"github.com/example/stashlite/internal/stash/search"
	"github.com/example/stashlite/internal/storage"
	"github.com/example/stashlite/pkg/observability"
)

const serviceName = "stash-search"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger(serviceName)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, serviceName)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration", zap.Error(err))
	}
	logger.Info("configuration loaded", cfg.LogFields()...)

	var checks []observability.HealthCheck

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = storage.OpenPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		defer db.Close()
		checks = append(checks, observability.HealthCheck{Name: "postgres", Check: db.PingContext})
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks = append(checks, observability.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName)); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	loc, evaluator, err := buildBackends(ctx, cfg, db, redisClient, logger)
	if err != nil {
		logger.Fatal("search backends", zap.Error(err))
	}

	var invalidator domain.CapacityInvalidator
	if cfg.CacheEnabled {
		var store cache.Store = cache.NewMemoryStore()
		if redisClient != nil {
			store = cache.NewRedisStore(redisClient, "")
		} else {
			logger.Warn("capacity cache is process-local; invalidations only reach this replica")
		}
		cached, err := cache.NewCachedEvaluator(evaluator, store, logger.Named("cache"), cache.Config{
			Quantum: cfg.CacheQuantum,
			TTL:     cfg.CacheTTL,
		})
		if err != nil {
			logger.Fatal("capacity cache", zap.Error(err))
		}
		evaluator, invalidator = cached, cached
	}

	svc, err := search.New(loc, evaluator, logger.Named("search"), search.Config{
		Workers:           cfg.SearchWorkers,
		QueryTimeout:      cfg.QueryTimeout,
		EvaluationTimeout: cfg.EvalTimeout,
	})
	if err != nil {
		logger.Fatal("search service", zap.Error(err))
	}

	if natsConn != nil && invalidator != nil {
		listener, err := invalidation.NewListener(natsConn, invalidator, logger.Named("invalidation"), invalidation.Config{
			Subject: cfg.InvalidationSubject,
		})
		if err != nil {
			logger.Fatal("invalidation listener", zap.Error(err))
		}
		if err := listener.Start(); err != nil {
			logger.Fatal("invalidation listener", zap.Error(err))
		}
		defer listener.Stop() //nolint:errcheck
	}

	httpCfg := handler.Config{DefaultRadiusKM: cfg.DefaultRadiusKM}
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, "search", middleware.RateConfig{
			Rate:  cfg.RateReadRPS,
			Burst: cfg.RateReadBurst,
		}, logger.Named("ratelimit"))
		httpCfg.SearchMiddleware = append(httpCfg.SearchMiddleware, limiter.Middleware)
	}
	httpInvalidator := invalidator
	if cfg.JWTSecret == "" {
		httpInvalidator = nil
		logger.Warn("JWT_SECRET not set; internal invalidation endpoint disabled")
	} else {
		verifier, err := auth.NewVerifier(cfg.JWTSecret, logger.Named("auth"), auth.RoleBookingService)
		if err != nil {
			logger.Fatal("jwt verifier", zap.Error(err))
		}
		httpCfg.InternalMiddleware = append(httpCfg.InternalMiddleware, verifier.Middleware)
	}
	stashHTTP := handler.NewHTTP(svc, httpInvalidator, logger.Named("http"), httpCfg)

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter(checks...))
	r.Mount("/", stashHTTP.Router())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("stash search listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

// buildBackends picks the candidate locator and the uncached capacity
// evaluator. Bookings live in Postgres whenever a DSN is configured;
// otherwise the demo catalogue and ledger are seeded in process.
func buildBackends(ctx context.Context, cfg config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) (domain.CandidateLocator, domain.CapacityEvaluator, error) {
	if cfg.LocatorBackend == config.BackendPostgres {
		return locator.NewPostgresLocator(db, cfg.QueryTimeout), capacity.NewPostgresEvaluator(db, cfg.EvalTimeout), nil
	}

	var cat catalogue
	switch cfg.LocatorBackend {
	case config.BackendRedis:
		cat = locator.NewRedisGeoLocator(redisClient, "", cfg.QueryTimeout)
	default:
		cat = locator.NewMemoryLocator()
	}

	if db != nil {
		if err := syncCatalogue(ctx, locator.NewPostgresLocator(db, cfg.QueryTimeout), cat); err != nil {
			return nil, nil, err
		}
		logger.Info("catalogue synced from postgres", zap.String("backend", cfg.LocatorBackend))
		return cat, capacity.NewPostgresEvaluator(db, cfg.EvalTimeout), nil
	}

	ledger := capacity.NewMemoryEvaluator()
	if err := seedDemo(ctx, cat, ledger, time.Now()); err != nil {
		return nil, nil, err
	}
	logger.Info("seeded demo stashpoints and bookings", zap.String("backend", cfg.LocatorBackend))
	return cat, ledger, nil
}

// syncCatalogue copies every stashpoint from Postgres into dst.
func syncCatalogue(ctx context.Context, src *locator.PostgresLocator, dst catalogue) error {
	stashpoints, err := src.Stashpoints(ctx)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}
	for _, sp := range stashpoints {
		if err := dst.Upsert(ctx, sp); err != nil {
			return fmt.Errorf("sync stashpoint %s: %w", sp.ID, err)
		}
	}
	return nil
}
