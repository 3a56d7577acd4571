package locator

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/domain"
)

// MemoryLocator is an in-memory catalogue suitable for tests and local demos.
type MemoryLocator struct {
	mu          sync.RWMutex
	stashpoints map[uuid.UUID]domain.Stashpoint
}

// NewMemoryLocator constructs an empty catalogue.
func NewMemoryLocator() *MemoryLocator {
	return &MemoryLocator{stashpoints: make(map[uuid.UUID]domain.Stashpoint)}
}

// Upsert stores or replaces a stashpoint.
func (m *MemoryLocator) Upsert(_ context.Context, sp domain.Stashpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stashpoints[sp.ID] = sp
	return nil
}

// Locate scans the catalogue; fine for the handful of entries a demo holds.
func (m *MemoryLocator) Locate(ctx context.Context, origin domain.GeoPoint, radiusKM float64, window domain.Window) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]domain.Candidate, 0)
	for _, sp := range m.stashpoints {
		dist := domain.DistanceKM(origin, sp.Location)
		if dist > radiusKM || !sp.Schedule.Covers(window) {
			continue
		}
		candidates = append(candidates, domain.Candidate{Stashpoint: sp, DistanceKM: dist})
	}
	sortByDistance(candidates)
	return candidates, nil
}

func sortByDistance(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
}
