package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/stashlite/internal/stash/domain"
)

// Client is the booking writer's side: it satisfies domain.CapacityInvalidator
// by asking the listener and waiting for the new version.
type Client struct {
	conn    *nats.Conn
	subject string
}

// NewClient builds a Client using the provided NATS connection.
func NewClient(conn *nats.Conn, subject string) *Client {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Client{conn: conn, subject: subject}
}

// Invalidate blocks until the version is advanced or ctx expires. Any failure
// wraps domain.ErrUpstreamUnavailable; the caller must then abort its booking
// mutation.
func (c *Client) Invalidate(ctx context.Context, stashpointID uuid.UUID) (int64, error) {
	payload, err := json.Marshal(Request{StashpointID: stashpointID})
	if err != nil {
		return 0, fmt.Errorf("marshal invalidation request: %w", err)
	}
	msg := nats.NewMsg(c.subject)
	msg.Data = payload
	if id := traceIDFromContext(ctx); id != "" {
		msg.Header.Set(traceHeader, id)
	}

	resp, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("%w: invalidation request: %w", domain.ErrUpstreamUnavailable, err)
	}
	var reply Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return 0, fmt.Errorf("%w: decode invalidation reply: %w", domain.ErrUpstreamUnavailable, err)
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, reply.Error)
	}
	return reply.Version, nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
