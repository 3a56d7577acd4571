package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const minSweepThreshold = 1024

type memoryEntry struct {
	bookedBags int
	expiresAt  time.Time
}

// MemoryStore is a process-local Store: versions are atomic counters and
// sums live in a map with lazy expiry.
type MemoryStore struct {
	versions sync.Map // uuid.UUID -> *atomic.Int64

	mu      sync.Mutex
	entries map[string]memoryEntry
	sweepAt int
	now     func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		sweepAt: minSweepThreshold,
		now:     time.Now,
	}
}

// Version reads the current version.
func (m *MemoryStore) Version(_ context.Context, stashpointID uuid.UUID) (int64, error) {
	counter, ok := m.versions.Load(stashpointID)
	if !ok {
		return initialVersion, nil
	}
	return counter.(*atomic.Int64).Load(), nil
}

// IncrementVersion atomically advances the version.
func (m *MemoryStore) IncrementVersion(_ context.Context, stashpointID uuid.UUID) (int64, error) {
	fresh := &atomic.Int64{}
	fresh.Store(initialVersion)
	counter, _ := m.versions.LoadOrStore(stashpointID, fresh)
	return counter.(*atomic.Int64).Add(1), nil
}

// Get returns a cached sum that has not expired.
func (m *MemoryStore) Get(_ context.Context, key string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return 0, false, nil
	}
	return entry.bookedBags, true, nil
}

// Set stores a sum. Entries orphaned by a version bump are never read again,
// so expired entries are swept whenever the map doubles.
func (m *MemoryStore) Set(_ context.Context, key string, bookedBags int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = memoryEntry{bookedBags: bookedBags, expiresAt: now.Add(ttl)}
	if len(m.entries) >= m.sweepAt {
		for k, e := range m.entries {
			if !now.Before(e.expiresAt) {
				delete(m.entries, k)
			}
		}
		m.sweepAt = max(2*len(m.entries), minSweepThreshold)
	}
	return nil
}
