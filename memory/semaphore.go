package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cfrenzel/eventfully"
)

// Semaphore is an in-process counting semaphore with lease semantics
// matching the durable implementations: leases expire after the configured
// timeout and expired leases are reclaimed lazily on acquire.
type Semaphore struct {
	settings eventfully.SemaphoreSettings
	clock    eventfully.Clock

	mu     sync.Mutex
	leases map[string]time.Time
}

var _ eventfully.Semaphore = (*Semaphore)(nil)

// NewSemaphore constructs an in-memory semaphore.
func NewSemaphore(settings eventfully.SemaphoreSettings, clock eventfully.Clock) *Semaphore {
	if clock == nil {
		clock = eventfully.SystemClock{}
	}

	return &Semaphore{
		settings: settings.WithDefaults(),
		clock:    clock,
		leases:   make(map[string]time.Time),
	}
}

// TryAcquire grants a lease when live leases are below capacity.
// Re-acquiring a held lease refreshes its expiry.
func (s *Semaphore) TryAcquire(_ context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.reclaim(now)

	if _, held := s.leases[ownerID]; !held && len(s.leases) >= s.settings.MaxConcurrentOwners {
		return false, nil
	}
	s.leases[ownerID] = now.Add(s.settings.Timeout)

	return true, nil
}

// TryRenew extends the lease when the owner still holds a live one.
func (s *Semaphore) TryRenew(_ context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expiresAt, held := s.leases[ownerID]
	if !held || !expiresAt.After(now) {
		delete(s.leases, ownerID)

		return false, nil
	}
	s.leases[ownerID] = now.Add(s.settings.Timeout)

	return true, nil
}

// TryRelease drops the owner's lease.
func (s *Semaphore) TryRelease(_ context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, held := s.leases[ownerID]
	delete(s.leases, ownerID)

	return held, nil
}

// Leases snapshots the live leases, sorted by owner.
func (s *Semaphore) Leases() []eventfully.SemaphoreLease {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reclaim(s.clock.Now())

	leases := make([]eventfully.SemaphoreLease, 0, len(s.leases))
	for owner, expiresAt := range s.leases {
		leases = append(leases, eventfully.SemaphoreLease{
			Name:      s.settings.Name,
			OwnerID:   owner,
			ExpiresAt: expiresAt,
		})
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].OwnerID < leases[j].OwnerID })

	return leases
}

// LiveOwners reports the number of unexpired leases, for tests.
func (s *Semaphore) LiveOwners() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reclaim(s.clock.Now())

	return len(s.leases)
}

// caller holds s.mu
func (s *Semaphore) reclaim(now time.Time) {
	for owner, expiresAt := range s.leases {
		if !expiresAt.After(now) {
			delete(s.leases, owner)
		}
	}
}
