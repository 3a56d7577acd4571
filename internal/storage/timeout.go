package storage

import (
	"context"
	"time"
)

// WithTimeout bounds ctx by timeout unless the caller's deadline is already
// sooner. A non-positive timeout leaves the context unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
