package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cfrenzel/eventfully"
)

func testSemaphore(clock eventfully.Clock, owners int, timeout time.Duration) *Semaphore {
	return NewSemaphore(eventfully.SemaphoreSettings{
		Name:                "relay",
		MaxConcurrentOwners: owners,
		Timeout:             timeout,
	}, clock)
}

func TestSemaphoreCapacity(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sem := testSemaphore(clock, 2, time.Minute)

	for _, owner := range []string{"a", "b"} {
		ok, err := sem.TryAcquire(ctx, owner)
		if err != nil || !ok {
			t.Fatalf("expected %s to acquire, ok=%v err=%v", owner, ok, err)
		}
	}

	ok, err := sem.TryAcquire(ctx, "c")
	if err != nil || ok {
		t.Fatalf("expected full semaphore to deny, ok=%v err=%v", ok, err)
	}
	if sem.LiveOwners() != 2 {
		t.Fatalf("expected 2 live owners, got %d", sem.LiveOwners())
	}

	// Existing owners refresh without consuming a slot.
	ok, err = sem.TryAcquire(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected re-acquire to succeed, ok=%v err=%v", ok, err)
	}
}

func TestSemaphoreExpiryReclaimed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sem := testSemaphore(clock, 1, time.Minute)

	ok, err := sem.TryAcquire(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	clock.now = clock.now.Add(2 * time.Minute)

	ok, err = sem.TryAcquire(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("expected expired lease to be reclaimed, ok=%v err=%v", ok, err)
	}

	// The original owner's lease is gone.
	ok, err = sem.TryRenew(ctx, "a")
	if err != nil || ok {
		t.Fatalf("expected renew of expired lease to fail, ok=%v err=%v", ok, err)
	}
}

func TestSemaphoreLeases(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sem := testSemaphore(clock, 3, time.Minute)

	for _, owner := range []string{"b", "a"} {
		if ok, _ := sem.TryAcquire(ctx, owner); !ok {
			t.Fatalf("expected %s to acquire", owner)
		}
	}

	leases := sem.Leases()
	if len(leases) != 2 {
		t.Fatalf("expected 2 leases, got %d", len(leases))
	}
	want := eventfully.SemaphoreLease{Name: "relay", OwnerID: "a", ExpiresAt: clock.now.Add(time.Minute)}
	if leases[0] != want {
		t.Fatalf("unexpected lease: %+v", leases[0])
	}
	if leases[1].OwnerID != "b" {
		t.Fatalf("expected owners sorted, got %+v", leases)
	}

	// Expired leases drop out of the listing.
	clock.now = clock.now.Add(2 * time.Minute)
	if got := sem.Leases(); len(got) != 0 {
		t.Fatalf("expected expired leases to be gone, got %+v", got)
	}
}

func TestSemaphoreRenewAndRelease(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sem := testSemaphore(clock, 1, time.Minute)

	if ok, _ := sem.TryAcquire(ctx, "a"); !ok {
		t.Fatalf("expected acquire to succeed")
	}

	clock.now = clock.now.Add(30 * time.Second)
	ok, err := sem.TryRenew(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected renew of live lease, ok=%v err=%v", ok, err)
	}

	// Renewal extended the lease past the original expiry.
	clock.now = clock.now.Add(45 * time.Second)
	if ok, _ := sem.TryRenew(ctx, "a"); !ok {
		t.Fatalf("expected renewed lease to still be live")
	}

	ok, err = sem.TryRelease(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected release of held lease, ok=%v err=%v", ok, err)
	}
	ok, err = sem.TryRelease(ctx, "a")
	if err != nil || ok {
		t.Fatalf("expected release of absent lease to report false, ok=%v err=%v", ok, err)
	}

	if ok, _ := sem.TryAcquire(ctx, "b"); !ok {
		t.Fatalf("expected released slot to be available")
	}
}
