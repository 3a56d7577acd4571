package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const initialVersion int64 = 1

// Store is the backing store for versions and cached sums. Implementations
// must make IncrementVersion atomic; Get and Set need no coordination.
type Store interface {
	// Version returns the current version, 1 for a stashpoint never invalidated.
	Version(ctx context.Context, stashpointID uuid.UUID) (int64, error)
	// IncrementVersion advances the version and returns the new value.
	IncrementVersion(ctx context.Context, stashpointID uuid.UUID) (int64, error)
	Get(ctx context.Context, key string) (int, bool, error)
	Set(ctx context.Context, key string, bookedBags int, ttl time.Duration) error
}
