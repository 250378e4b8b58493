package eventfully

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Relay moves messages from the outbox store to the transport. One or more
// workers poll the store for due messages, each gated by the configured
// semaphore so a horizontally-scaled fleet stays within its concurrency
// bound.
type Relay struct {
	store  OutboxStore
	sender sender
	cfg    RelayConfig

	pendingMu sync.Mutex
	pendingAt time.Time
}

type batchOutcome struct {
	completed   []uuid.UUID
	rescheduled []Reschedule
	dead        []Failure
}

// NewRelay constructs a relay over store, transport, and routing profile.
func NewRelay(store OutboxStore, transport Transport, profile *Profile, opts ...RelayOption) *Relay {
	if store == nil {
		panic("eventfully: nil OutboxStore")
	}
	if transport == nil {
		panic("eventfully: nil Transport")
	}
	if profile == nil {
		panic("eventfully: nil Profile")
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{
		store:  store,
		sender: sender{transport: transport, profile: profile},
		cfg:    cfg,
	}
}

// Run starts the polling loop with the configured number of workers and
// blocks until ctx is canceled. Store hiccups are retried in place; only a
// worker panic terminates the run early.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.cfg.Logger.Error("relay worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			r.runWorker(ctx, workerID)
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}

	return nil
}

// ProcessOnce fetches and processes a single batch, bypassing the semaphore.
// It reports whether a batch was processed.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	batch, err := r.fetchBatch(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessages) {
			r.maybeRecordPending(ctx)

			return false, nil
		}

		return false, err
	}

	if err := r.processBatch(ctx, batch); err != nil {
		return false, err
	}

	return true, nil
}

func (r *Relay) runWorker(ctx context.Context, workerID int) {
	holder := newLeaseHolder(
		r.cfg.Semaphore,
		fmt.Sprintf("relay-%d-%s", workerID, uuid.NewString()),
		r.cfg.RenewInterval,
		r.cfg.Clock,
		r.cfg.Logger,
	)
	defer holder.release(context.WithoutCancel(ctx))

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !holder.held {
			if !holder.acquire(ctx) {
				r.cfg.Metrics.AddLeaseDenied(1)
				if sleepCtx(ctx, r.cfg.AcquireInterval) != nil {
					return
				}

				continue
			}
		}
		if !holder.maybeRenew(ctx) {
			continue
		}

		batch, err := r.fetchBatch(ctx)
		if err != nil {
			if errors.Is(err, ErrNoMessages) {
				consecutiveFailures = 0
				r.maybeRecordPending(ctx)
				if sleepCtx(ctx, r.cfg.PollInterval) != nil {
					return
				}

				continue
			}
			if ctx.Err() != nil {
				return
			}

			consecutiveFailures++
			r.cfg.Logger.Error("outbox fetch failed", "worker", workerID, "failures", consecutiveFailures, "err", err)
			if consecutiveFailures == r.cfg.FailureThreshold && r.cfg.FatalHandler != nil {
				r.cfg.FatalHandler(fmt.Errorf("eventfully: %d consecutive store failures: %w", consecutiveFailures, err))
			}
			if sleepCtx(ctx, r.cfg.PollInterval) != nil {
				return
			}

			continue
		}
		consecutiveFailures = 0

		if err := r.processBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.cfg.Logger.Error("outbox batch failed", "worker", workerID, "err", err)
			if sleepCtx(ctx, r.cfg.PollInterval) != nil {
				return
			}
		}
	}
}

func (r *Relay) fetchBatch(ctx context.Context) (Batch, error) {
	return r.store.FetchDue(ctx, FetchOptions{
		Limit: r.cfg.BatchSize,
		Now:   r.cfg.Clock.Now(),
	})
}

func (r *Relay) processBatch(ctx context.Context, batch Batch) error {
	start := time.Now()
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	if batch == nil {
		return ErrNilBatch
	}

	messages := batch.Messages()
	if len(messages) == 0 {
		rollbackErr := batch.Rollback()

		return errors.Join(ErrEmptyBatch, rollbackErr)
	}

	outcome, err := r.collectBatchResults(ctx, messages)
	if err != nil {
		return r.rollbackWith(batch, err)
	}

	return r.applyBatchResults(ctx, batch, outcome)
}

func (r *Relay) collectBatchResults(ctx context.Context, messages []OutboxMessage) (batchOutcome, error) {
	outcome := batchOutcome{
		completed:   make([]uuid.UUID, 0, len(messages)),
		rescheduled: make([]Reschedule, 0),
		dead:        make([]Failure, 0),
	}
	for i := range messages {
		msg := messages[i]

		if msg.IsExpired(r.cfg.Clock.Now()) {
			r.recordFailure(ctx, msg, ErrMessageExpired, &outcome)

			continue
		}

		sendCtx := ctx
		cancel := func() {}
		if r.cfg.SendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		}
		err := r.sender.deliver(sendCtx, &msg)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			r.recordFailure(ctx, msg, err, &outcome)

			continue
		}
		outcome.completed = append(outcome.completed, msg.ID)
	}

	return outcome, nil
}

func (r *Relay) recordFailure(ctx context.Context, msg OutboxMessage, err error, outcome *batchOutcome) {
	if r.cfg.ErrorHandler != nil {
		r.cfg.ErrorHandler(ctx, msg, err)
	}

	if errors.Is(err, ErrMessageExpired) || r.cfg.Classifier(ctx, msg, err) == FailureDead {
		outcome.dead = append(outcome.dead, Failure{ID: msg.ID, Err: err})

		return
	}

	outcome.rescheduled = append(outcome.rescheduled, Reschedule{
		ID:     msg.ID,
		NextAt: r.cfg.Clock.Now().Add(r.cfg.Backoff.Next(msg.TryCount)),
		Err:    err,
	})
}

func (r *Relay) applyBatchResults(ctx context.Context, batch Batch, outcome batchOutcome) error {
	if len(outcome.completed) > 0 {
		if err := batch.Complete(ctx, outcome.completed); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox complete failed: %w", err))
		}
	}
	if len(outcome.rescheduled) > 0 {
		if err := batch.Fail(ctx, outcome.rescheduled); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox reschedule failed: %w", err))
		}
	}
	if len(outcome.dead) > 0 {
		if err := batch.Dead(ctx, outcome.dead); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox dead update failed: %w", err))
		}
	}

	if err := batch.Commit(); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("outbox commit failed: %w", err))
	}

	r.cfg.Metrics.AddDelivered(len(outcome.completed))
	r.cfg.Metrics.AddRetries(len(outcome.rescheduled))
	r.cfg.Metrics.AddDead(len(outcome.dead))

	return nil
}

func (r *Relay) rollbackWith(batch Batch, err error) error {
	rollbackErr := batch.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("outbox rollback failed: %w", rollbackErr))
}

func (r *Relay) maybeRecordPending(ctx context.Context) {
	counter, ok := r.store.(PendingCounter)
	if !ok {
		return
	}
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.cfg.Logger.Warn("outbox pending count failed", "err", err)

		return
	}

	r.cfg.Metrics.SetPending(count)
}
