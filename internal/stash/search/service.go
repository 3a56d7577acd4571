package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/storage"
)

// Config bounds the search pipeline. Workers should not exceed the database
// pool size, otherwise evaluations queue inside the driver instead of here.
type Config struct {
	Workers           int
	QueryTimeout      time.Duration
	EvaluationTimeout time.Duration
}

// Service answers availability searches: locate candidates, evaluate booked
// capacity per candidate in parallel, keep those with room for the bags.
type Service struct {
	locator   domain.CandidateLocator
	evaluator domain.CapacityEvaluator
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Service.
func New(locator domain.CandidateLocator, evaluator domain.CapacityEvaluator, logger *zap.Logger, cfg Config) (*Service, error) {
	if locator == nil {
		return nil, errors.New("candidate locator is required")
	}
	if evaluator == nil {
		return nil, errors.New("capacity evaluator is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		locator:   locator,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("stash.search"),
	}, nil
}

// FindAvailable returns the stashpoints within the radius that are open for
// the whole window and can take the bags, closest first.
//
// Validation failures return before any query is issued. A locator failure
// is fatal and wraps domain.ErrUpstreamUnavailable. Candidates whose
// evaluation fails are dropped and reported through SearchResult.Partial
// while the search still succeeds. If ctx is done the context error is
// returned instead of a result.
func (s *Service) FindAvailable(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		searchDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		return domain.SearchResult{}, err
	}
	req.Window = req.Window.UTC()

	ctx, span := s.tracer.Start(ctx, "search.find_available", trace.WithAttributes(
		attribute.Float64("search.radius_km", req.RadiusKM),
		attribute.Int("search.bag_count", req.BagCount),
	))
	defer span.End()

	result, outcome, err := s.find(ctx, req)
	searchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return domain.SearchResult{}, err
	}
	span.SetAttributes(attribute.Int("search.results", len(result.Stashpoints)))
	return result, nil
}

func (s *Service) find(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, string, error) {
	candidates, err := s.locate(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.SearchResult{}, "cancelled", ctxErr
		}
		return domain.SearchResult{}, "upstream_error", fmt.Errorf("%w: locate candidates: %w", domain.ErrUpstreamUnavailable, err)
	}
	searchCandidates.Observe(float64(len(candidates)))

	booked, failures := s.evaluate(ctx, candidates, req.Window)
	if err := ctx.Err(); err != nil {
		return domain.SearchResult{}, "cancelled", err
	}

	result := domain.SearchResult{Stashpoints: Filter(candidates, booked, req.BagCount)}
	if len(failures) > 0 {
		result.Partial = &domain.PartialEvaluationError{Failures: failures}
		return result, "partial", nil
	}
	return result, "ok", nil
}

func (s *Service) locate(ctx context.Context, req domain.SearchRequest) ([]domain.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "search.locate")
	defer span.End()
	ctx, cancel := storage.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	candidates, err := s.locator.Locate(ctx, req.Origin, req.RadiusKM, req.Window)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.candidates", len(candidates)))
	return candidates, nil
}

// evaluate computes booked bags for every candidate on at most Workers
// goroutines. Slots are indexed by candidate so no locking is needed.
func (s *Service) evaluate(ctx context.Context, candidates []domain.Candidate, window domain.Window) (map[uuid.UUID]int, map[uuid.UUID]error) {
	ctx, span := s.tracer.Start(ctx, "search.evaluate", trace.WithAttributes(attribute.Int("search.candidates", len(candidates))))
	defer span.End()

	booked := make([]int, len(candidates))
	errs := make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		i := i
		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
			defer cancel()
			booked[i], errs[i] = s.evaluator.BookedBags(evalCtx, candidates[i].ID, window)
			return nil
		})
	}
	_ = g.Wait()

	sums := make(map[uuid.UUID]int, len(candidates))
	var failures map[uuid.UUID]error
	for i, c := range candidates {
		if errs[i] == nil {
			sums[c.ID] = booked[i]
			continue
		}
		if failures == nil {
			failures = make(map[uuid.UUID]error)
		}
		failures[c.ID] = errs[i]
		if ctx.Err() == nil {
			evaluationFailures.Inc()
			s.logger.Warn("capacity evaluation failed; candidate skipped",
				zap.Stringer("stashpoint_id", c.ID),
				zap.Error(errs[i]))
		}
	}
	if len(failures) > 0 {
		span.SetAttributes(attribute.Int("search.skipped", len(failures)))
	}
	return sums, failures
}
