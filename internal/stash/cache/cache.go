package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/stashlite/internal/stash/domain"
)

// Config tunes bucket width and entry lifetime.
type Config struct {
	Quantum time.Duration
	TTL     time.Duration
}

// CachedEvaluator memoises booked-capacity sums per stashpoint, version and
// quantised window. It serves the search path only: a hit may predate a
// booking committed concurrently, so booking acceptance must use an
// uncached evaluator.
type CachedEvaluator struct {
	next   domain.CapacityEvaluator
	store  Store
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCachedEvaluator wraps next with the versioned cache.
func NewCachedEvaluator(next domain.CapacityEvaluator, store Store, logger *zap.Logger, cfg Config) (*CachedEvaluator, error) {
	if next == nil {
		return nil, errors.New("capacity evaluator is required")
	}
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = 30 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEvaluator{
		next:   next,
		store:  store,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("stash.capacity.cache"),
	}, nil
}

// BookedBags returns the cached sum for the current version and quantised
// window, computing it from the exact window on a miss. Store failures are
// logged and treated as misses.
func (c *CachedEvaluator) BookedBags(ctx context.Context, stashpointID uuid.UUID, window domain.Window) (int, error) {
	ctx, span := c.tracer.Start(ctx, "cache.booked_bags", trace.WithAttributes(attribute.String("stashpoint.id", stashpointID.String())))
	defer span.End()

	version, err := c.store.Version(ctx, stashpointID)
	if err != nil {
		cacheRequests.WithLabelValues("error").Inc()
		c.logger.Warn("capacity cache version read failed", zap.Stringer("stashpoint_id", stashpointID), zap.Error(err))
		// without a version the result cannot be keyed safely, so it is not stored.
		return c.next.BookedBags(ctx, stashpointID, window)
	}

	key := Key(stashpointID, version, window, c.cfg.Quantum)
	booked, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		cacheRequests.WithLabelValues("error").Inc()
		c.logger.Warn("capacity cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		cacheRequests.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return booked, nil
	default:
		cacheRequests.WithLabelValues("miss").Inc()
	}

	booked, err = c.next.BookedBags(ctx, stashpointID, window)
	if err != nil {
		return 0, err
	}
	// A write racing an invalidation lands under the old version and is never read.
	if err := c.store.Set(ctx, key, booked, c.cfg.TTL); err != nil {
		c.logger.Warn("capacity cache set failed", zap.String("key", key), zap.Error(err))
	}
	return booked, nil
}

// Invalidate advances the stashpoint's version, orphaning every cached sum
// for it. Booking writers must call it before a capacity-changing mutation
// completes; a failure here must abort that mutation.
func (c *CachedEvaluator) Invalidate(ctx context.Context, stashpointID uuid.UUID) (int64, error) {
	version, err := c.store.IncrementVersion(ctx, stashpointID)
	if err != nil {
		return 0, fmt.Errorf("%w: bump capacity version %s: %w", domain.ErrUpstreamUnavailable, stashpointID, err)
	}
	cacheInvalidations.Inc()
	c.logger.Debug("capacity version advanced", zap.Stringer("stashpoint_id", stashpointID), zap.Int64("version", version))
	return version, nil
}
