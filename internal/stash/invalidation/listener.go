// Package invalidation carries capacity version bumps over NATS
// request/reply: booking writers ask, the search service advances the
// version and answers with the new value before the booking commits.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/stashlite/internal/stash/domain"
)

const (
	DefaultSubject = "stashpoint.capacity.changed"
	traceHeader    = "x-trace-id"
)

var invalidationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "capacity_invalidation_requests_total",
	Help: "Capacity invalidation requests received over NATS grouped by outcome.",
}, []string{"result"})

// Request asks for the stashpoint's capacity version to be advanced.
type Request struct {
	StashpointID uuid.UUID `json:"stashpoint_id"`
}

// Reply carries the new version, or the reason it could not be advanced.
type Reply struct {
	Version int64  `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config tunes the listener.
type Config struct {
	Subject string
	// Queue groups replicas so each request is handled once.
	Queue   string
	Timeout time.Duration
}

// Listener serves invalidation requests on a NATS subject.
type Listener struct {
	conn        *nats.Conn
	invalidator domain.CapacityInvalidator
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
	sub         *nats.Subscription
}

// NewListener constructs a listener; call Start to subscribe.
func NewListener(conn *nats.Conn, invalidator domain.CapacityInvalidator, logger *zap.Logger, cfg Config) (*Listener, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if invalidator == nil {
		return nil, errors.New("capacity invalidator is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Queue == "" {
		cfg.Queue = "stash-search"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		conn:        conn,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("stash.invalidation"),
	}, nil
}

// Start subscribes to the configured subject.
func (l *Listener) Start() error {
	sub, err := l.conn.QueueSubscribe(l.cfg.Subject, l.cfg.Queue, l.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.cfg.Subject, err)
	}
	l.sub = sub
	l.logger.Info("capacity invalidation listener started", zap.String("subject", l.cfg.Subject), zap.String("queue", l.cfg.Queue))
	return nil
}

// Stop drains the subscription so in-flight requests are answered.
func (l *Listener) Stop() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

func (l *Listener) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Timeout)
	defer cancel()
	reply := l.process(ctx, msg.Data, msg.Header.Get(traceHeader))
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		l.logger.Error("marshal invalidation reply", zap.Error(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		l.logger.Warn("invalidation reply failed", zap.Error(err))
	}
}

func (l *Listener) process(ctx context.Context, data []byte, traceID string) Reply {
	ctx, span := l.tracer.Start(ctx, "invalidation.handle", trace.WithAttributes(attribute.String("messaging.trace_id", traceID)))
	defer span.End()

	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.StashpointID == uuid.Nil {
		invalidationRequests.WithLabelValues("invalid").Inc()
		l.logger.Warn("malformed invalidation request", zap.ByteString("payload", data))
		return Reply{Error: "stashpoint_id is required"}
	}
	span.SetAttributes(attribute.String("stashpoint.id", req.StashpointID.String()))

	version, err := l.invalidator.Invalidate(ctx, req.StashpointID)
	if err != nil {
		invalidationRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		l.logger.Error("capacity invalidation failed", zap.Stringer("stashpoint_id", req.StashpointID), zap.Error(err))
		return Reply{Error: err.Error()}
	}
	invalidationRequests.WithLabelValues("ok").Inc()
	return Reply{Version: version}
}
