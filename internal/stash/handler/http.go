package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/stashlite/internal/stash/domain"
)

// PartialResultsHeader is set on search responses that left out candidates
// whose capacity could not be checked.
const PartialResultsHeader = "X-Partial-Results"

// Searcher is the search core as seen by the HTTP layer.
type Searcher interface {
	FindAvailable(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error)
}

// Config wires optional behaviour into the router.
type Config struct {
	DefaultRadiusKM float64
	// SearchMiddleware wraps the public search route, e.g. rate limiting.
	SearchMiddleware []func(http.Handler) http.Handler
	// InternalMiddleware wraps the /internal routes, e.g. JWT auth.
	InternalMiddleware []func(http.Handler) http.Handler
}

// HTTP exposes the stashpoint search and cache invalidation endpoints.
type HTTP struct {
	svc         Searcher
	invalidator domain.CapacityInvalidator
	query       *QueryValidator
	cfg         Config
	logger      *zap.Logger
}

// NewHTTP constructs a handler. A nil invalidator leaves the internal
// invalidation route unmounted.
func NewHTTP(svc Searcher, invalidator domain.CapacityInvalidator, logger *zap.Logger, cfg Config) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		svc:         svc,
		invalidator: invalidator,
		query:       NewQueryValidator(cfg.DefaultRadiusKM),
		cfg:         cfg,
		logger:      logger,
	}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthcheck", h.healthcheck)
	r.With(h.cfg.SearchMiddleware...).Get("/api/v1/stashpoints", h.searchStashpoints)
	if h.invalidator != nil {
		r.Route("/internal", func(r chi.Router) {
			r.Use(h.cfg.InternalMiddleware...)
			r.Post("/stashpoints/{id}/invalidate", h.invalidateCapacity)
		})
	}
	return r
}

func (h *HTTP) healthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTP) searchStashpoints(w http.ResponseWriter, r *http.Request) {
	req, err := h.query.Parse(r.URL.Query())
	if err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			writeErrors(w, http.StatusBadRequest, verrs.Fields())
			return
		}
		h.logger.Error("parse search query", zap.Error(err))
		writeErrors(w, http.StatusInternalServerError, map[string]string{"query": "internal error"})
		return
	}

	res, err := h.svc.FindAvailable(r.Context(), req)
	if err != nil {
		h.writeSearchError(w, r, err)
		return
	}
	if res.Partial != nil {
		w.Header().Set(PartialResultsHeader, "true")
		h.logger.Warn("search returned partial results",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(res.Partial))
	}
	writeJSON(w, http.StatusOK, res.Stashpoints)
}

func (h *HTTP) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidWindow):
		writeErrors(w, http.StatusBadRequest, map[string]string{"pickup": err.Error()})
	case errors.Is(err, domain.ErrInvalidRadius):
		writeErrors(w, http.StatusBadRequest, map[string]string{"radius_km": err.Error()})
	case errors.Is(err, domain.ErrInvalidBagCount):
		writeErrors(w, http.StatusBadRequest, map[string]string{"bag_count": err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body.
		w.WriteHeader(http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("stashpoint search failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeErrors(w, http.StatusServiceUnavailable, map[string]string{"search": "search temporarily unavailable"})
	default:
		h.logger.Error("stashpoint search failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeErrors(w, http.StatusInternalServerError, map[string]string{"search": "internal error"})
	}
}

func (h *HTTP) invalidateCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrors(w, http.StatusBadRequest, map[string]string{"id": "id must be a UUID"})
		return
	}
	version, err := h.invalidator.Invalidate(r.Context(), id)
	if err != nil {
		h.logger.Error("capacity invalidation failed", zap.Stringer("stashpoint_id", id), zap.Error(err))
		writeErrors(w, http.StatusServiceUnavailable, map[string]string{"id": "capacity version could not be advanced"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func writeErrors(w http.ResponseWriter, status int, fields map[string]string) {
	writeJSON(w, status, map[string]any{"errors": fields})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
