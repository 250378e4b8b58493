package eventfully

import (
	"context"
	"time"
)

// Semaphore is a distributed counting semaphore backed by a durable store
// shared by every process in the fleet. At any instant the number of live
// (non-expired) leases never exceeds the semaphore's configured capacity;
// expired leases count as free capacity without a sweeper (lazy
// reclamation).
//
// Store unavailability surfaces as an error; callers treat it as "not
// acquired" and back off rather than fail.
type Semaphore interface {
	// TryAcquire inserts a lease for ownerID iff capacity remains. It reports
	// false when the semaphore is full.
	TryAcquire(ctx context.Context, ownerID string) (bool, error)
	// TryRenew extends ownerID's lease expiry from now. It reports false when
	// the lease no longer exists (it expired and was reclaimed).
	TryRenew(ctx context.Context, ownerID string) (bool, error)
	// TryRelease deletes ownerID's lease. Releasing an absent lease is not an
	// error and reports false.
	TryRelease(ctx context.Context, ownerID string) (bool, error)
}

// SemaphoreLease describes one live claim on a semaphore slot.
type SemaphoreLease struct {
	Name      string
	OwnerID   string
	ExpiresAt time.Time
}

// SemaphoreSettings configures a named semaphore.
type SemaphoreSettings struct {
	// Name identifies the semaphore across the fleet.
	Name string
	// MaxConcurrentOwners is the lease capacity.
	MaxConcurrentOwners int
	// Timeout bounds a lease's life between renewals; leases past it are
	// reclaimable by other owners.
	Timeout time.Duration
}

const (
	defaultSemaphoreOwners  = 1
	defaultSemaphoreTimeout = 60 * time.Second
)

func (s SemaphoreSettings) withDefaults() SemaphoreSettings {
	if s.Name == "" {
		s.Name = "default"
	}
	if s.MaxConcurrentOwners <= 0 {
		s.MaxConcurrentOwners = defaultSemaphoreOwners
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultSemaphoreTimeout
	}

	return s
}

// WithDefaults returns the settings with unset fields defaulted.
func (s SemaphoreSettings) WithDefaults() SemaphoreSettings {
	return s.withDefaults()
}

// nopSemaphore admits every owner; used when no semaphore is configured.
type nopSemaphore struct{}

func (nopSemaphore) TryAcquire(context.Context, string) (bool, error) { return true, nil }
func (nopSemaphore) TryRenew(context.Context, string) (bool, error)   { return true, nil }
func (nopSemaphore) TryRelease(context.Context, string) (bool, error) { return true, nil }
