package domain

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Window is a requested storage period. Both ends are UTC instants and the
// window is treated as the half-open interval [Dropoff, Pickup).
type Window struct {
	Dropoff time.Time `json:"dropoff"`
	Pickup  time.Time `json:"pickup"`
}

// UTC returns the window normalised to UTC.
func (w Window) UTC() Window {
	return Window{Dropoff: w.Dropoff.UTC(), Pickup: w.Pickup.UTC()}
}

// Validate reports ErrInvalidWindow unless pickup is strictly after dropoff.
func (w Window) Validate() error {
	if w.Dropoff.IsZero() || w.Pickup.IsZero() || !w.Pickup.After(w.Dropoff) {
		return ErrInvalidWindow
	}
	return nil
}

// Overlaps reports whether [start, end) intersects the window. Touching
// endpoints do not overlap.
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.Pickup) && end.After(w.Dropoff)
}

type Stashpoint struct {
	ID         uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	PostalCode  string    `json:"postal_code"`
	Location    GeoPoint  `json:"location"`
	Capacity    int       `json:"capacity"`
	Schedule    Schedule  `json:"schedule"`
}

// Candidate is a stashpoint that passed the geography and schedule filters.
type Candidate struct {
	Stashpoint
	DistanceKM float64
}

type Booking struct {
	ID           uuid.UUID
	StashpointID uuid.UUID
	Dropoff      time.Time
	Pickup       time.Time
	BagCount     int
	Cancelled    bool
	CreatedAt    time.Time
}

// Counts reports whether the booking consumes capacity during the window.
func (b Booking) Counts(w Window) bool {
	return !b.Cancelled && w.Overlaps(b.Dropoff, b.Pickup)
}

type SearchRequest struct {
	Origin   GeoPoint
	RadiusKM float64
	Window   Window
	BagCount int
}

// Validate checks the rules the search core enforces even when the
// request layer has already validated the input.
func (r SearchRequest) Validate() error {
	if err := r.Window.Validate(); err != nil {
		return err
	}
	if r.RadiusKM <= 0 || math.IsNaN(r.RadiusKM) || math.IsInf(r.RadiusKM, 0) {
		return ErrInvalidRadius
	}
	if r.BagCount < 0 {
		return ErrInvalidBagCount
	}
	return nil
}

type AvailableStashpoint struct {
	Stashpoint
	DistanceKM        float64 `json:"distance_km"`
	AvailableCapacity int     `json:"available_capacity"`
}

// SearchResult is the accepted list in locator order. Partial is non-nil when
// some candidates could not be capacity-checked and were left out.
type SearchResult struct {
	Stashpoints []AvailableStashpoint
	Partial     error
}

// CandidateLocator narrows the catalogue to stashpoints in range and open for
// the whole window, closest first.
type CandidateLocator interface {
	Locate(ctx context.Context, origin GeoPoint, radiusKM float64, window Window) ([]Candidate, error)
}

// CapacityEvaluator returns the bags already committed against a stashpoint
// for bookings overlapping the window.
type CapacityEvaluator interface {
	BookedBags(ctx context.Context, stashpointID uuid.UUID, window Window) (int, error)
}

// CapacityInvalidator advances the booked-capacity version of a stashpoint.
// Booking writers call it before a capacity-changing mutation completes.
type CapacityInvalidator interface {
	Invalidate(ctx context.Context, stashpointID uuid.UUID) (int64, error)
}
