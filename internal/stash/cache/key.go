package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/domain"
)

const keyPrefix = "bookedcap"

// Quantize rounds t down to the quantum boundary in UTC.
func Quantize(t time.Time, quantum time.Duration) time.Time {
	return t.UTC().Truncate(quantum)
}

// Key identifies a cached booked-capacity sum. Windows whose ends fall into
// the same buckets share a key; the version component makes every entry
// written before an invalidation unreachable.
func Key(stashpointID uuid.UUID, version int64, window domain.Window, quantum time.Duration) string {
	return fmt.Sprintf("%s:%s:v%d:%d:%d",
		keyPrefix,
		stashpointID,
		version,
		Quantize(window.Dropoff, quantum).Unix(),
		Quantize(window.Pickup, quantum).Unix(),
	)
}
