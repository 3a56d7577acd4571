package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/capacity"
	"github.com/example/stashlite/internal/stash/domain"
)

// catalogue is a locator that can be written to: the memory and Redis geo
// locators both qualify.
type catalogue interface {
	domain.CandidateLocator
	Upsert(ctx context.Context, sp domain.Stashpoint) error
}

type demoStashpoint struct {
	name     string
	desc     string
	address  string
	postcode string
	lat, lng float64
	capacity int
	schedule domain.Schedule
	booked   int
}

var demoStashpoints = []demoStashpoint{
	{"Covent Garden Cafe", "Bags go in the back room", "12 Long Acre", "WC2E 9LH", 51.5117, -0.1240, 20, domain.Daily(domain.MustClockTime("08:00"), domain.MustClockTime("22:00")), 6},
	{"Leicester Square Kiosk", "Small lockers only", "3 Cranbourn St", "WC2H 7AL", 51.5113, -0.1281, 8, domain.Daily(domain.MustClockTime("09:00"), domain.MustClockTime("18:00")), 0},
	{"Kings Cross Hotel", "Ask at reception", "1 York Way", "N1C 4AX", 51.5320, -0.1233, 50, domain.Schedule{AlwaysOpen: true}, 45},
	{"Soho Late Bar", "Evenings and late night", "40 Dean St", "W1D 4PY", 51.5136, -0.1318, 12, domain.Daily(domain.MustClockTime("18:00"), domain.MustClockTime("03:00")), 0},
}

// demoID is stable across restarts so reseeding a shared Redis index
// overwrites the previous demo entries.
func demoID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("stashlite-demo/"+name))
}

// seedDemo fills the catalogue and booking ledger; bookings are placed on
// the following day so searches for tomorrow see used capacity.
func seedDemo(ctx context.Context, cat catalogue, ledger *capacity.MemoryEvaluator, now time.Time) error {
	tomorrow := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	for _, d := range demoStashpoints {
		sp := domain.Stashpoint{
			ID:          demoID(d.name),
			Name:        d.name,
			Description: d.desc,
			Address:     d.address,
			PostalCode:  d.postcode,
			Location:    domain.GeoPoint{Lat: d.lat, Lng: d.lng},
			Capacity:    d.capacity,
			Schedule:    d.schedule,
		}
		if err := cat.Upsert(ctx, sp); err != nil {
			return fmt.Errorf("seed %s: %w", d.name, err)
		}
		if d.booked == 0 {
			continue
		}
		if err := ledger.Add(ctx, domain.Booking{
			StashpointID: sp.ID,
			Dropoff:      tomorrow.Add(10 * time.Hour),
			Pickup:       tomorrow.Add(16 * time.Hour),
			BagCount:     d.booked,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("seed booking for %s: %w", d.name, err)
		}
	}
	return nil
}
