package eventfully

import (
	"context"
	"time"
)

// leaseHolder tracks one worker's claim on a semaphore slot: acquire,
// periodic renewal while processing, release on exit. A failed renewal means
// the lease timed out and was reclaimed; the holder drops back to acquiring.
type leaseHolder struct {
	sem     Semaphore
	ownerID string
	renew   time.Duration
	clock   Clock
	logger  Logger

	held      bool
	renewedAt time.Time
}

func newLeaseHolder(sem Semaphore, ownerID string, renew time.Duration, clock Clock, logger Logger) *leaseHolder {
	return &leaseHolder{
		sem:     sem,
		ownerID: ownerID,
		renew:   renew,
		clock:   clock,
		logger:  logger,
	}
}

// acquire attempts to claim a slot. Store errors count as "not acquired".
func (h *leaseHolder) acquire(ctx context.Context) bool {
	ok, err := h.sem.TryAcquire(ctx, h.ownerID)
	if err != nil {
		h.logger.Warn("semaphore acquire failed", "owner", h.ownerID, "err", err)

		return false
	}
	if ok {
		h.held = true
		h.renewedAt = h.clock.Now()
	}

	return ok
}

// maybeRenew extends the lease when the renew interval elapsed. It reports
// whether the lease is still held.
func (h *leaseHolder) maybeRenew(ctx context.Context) bool {
	if !h.held {
		return false
	}
	now := h.clock.Now()
	if now.Sub(h.renewedAt) < h.renew {
		return true
	}

	ok, err := h.sem.TryRenew(ctx, h.ownerID)
	if err != nil {
		// Keep the lease optimistically; the timeout is the safety net.
		h.logger.Warn("semaphore renew failed", "owner", h.ownerID, "err", err)

		return true
	}
	if !ok {
		h.logger.Warn("semaphore lease lost", "owner", h.ownerID)
		h.held = false

		return false
	}
	h.renewedAt = now

	return true
}

// sleepCtx blocks for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// release gives the slot back on graceful shutdown.
func (h *leaseHolder) release(ctx context.Context) {
	if !h.held {
		return
	}
	h.held = false
	if _, err := h.sem.TryRelease(ctx, h.ownerID); err != nil {
		h.logger.Warn("semaphore release failed", "owner", h.ownerID, "err", err)
	}
}
