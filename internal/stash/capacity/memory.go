package capacity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/domain"
)

var (
	// ErrNotFound indicates a missing booking.
	ErrNotFound = errors.New("booking not found")
	// ErrInvalidBooking rejects bookings that hold no bags.
	ErrInvalidBooking = errors.New("booking bag count must be positive")
)

// MemoryEvaluator keeps bookings in memory, grouped by stashpoint.
type MemoryEvaluator struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID][]domain.Booking
}

// NewMemoryEvaluator constructs an empty ledger.
func NewMemoryEvaluator() *MemoryEvaluator {
	return &MemoryEvaluator{bookings: make(map[uuid.UUID][]domain.Booking)}
}

// Add records a booking.
func (m *MemoryEvaluator) Add(_ context.Context, b domain.Booking) error {
	if !b.Pickup.After(b.Dropoff) {
		return domain.ErrInvalidWindow
	}
	if b.BagCount <= 0 {
		return ErrInvalidBooking
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Dropoff, b.Pickup = b.Dropoff.UTC(), b.Pickup.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.StashpointID] = append(m.bookings[b.StashpointID], b)
	return nil
}

// Cancel flips the cancellation flag; bookings are never removed.
func (m *MemoryEvaluator) Cancel(_ context.Context, stashpointID, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.bookings[stashpointID] {
		if b.ID == bookingID {
			m.bookings[stashpointID][i].Cancelled = true
			return nil
		}
	}
	return ErrNotFound
}

// BookedBags sums non-cancelled bookings overlapping the window.
func (m *MemoryEvaluator) BookedBags(ctx context.Context, stashpointID uuid.UUID, window domain.Window) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, b := range m.bookings[stashpointID] {
		if b.Counts(window) {
			total += b.BagCount
		}
	}
	return total, nil
}
