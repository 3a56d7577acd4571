package search

import (
	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/domain"
)

// Filter keeps the candidates whose remaining capacity fits bagCount, in
// input order. Candidates missing from booked were not evaluated and are left
// out.
func Filter(candidates []domain.Candidate, booked map[uuid.UUID]int, bagCount int) []domain.AvailableStashpoint {
	out := make([]domain.AvailableStashpoint, 0, len(candidates))
	for _, c := range candidates {
		used, ok := booked[c.ID]
		if !ok {
			continue
		}
		remaining := c.Capacity - used
		if remaining < bagCount {
			continue
		}
		out = append(out, domain.AvailableStashpoint{
			Stashpoint:        c.Stashpoint,
			DistanceKM:        domain.RoundKM(c.DistanceKM),
			AvailableCapacity: remaining,
		})
	}
	return out
}
