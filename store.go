package eventfully

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FetchOptions controls how due messages are selected.
type FetchOptions struct {
	// Limit caps the number of messages claimed in one batch.
	Limit int
	// Now is the poll instant; messages with PriorityAt <= Now are due.
	// Due messages are returned oldest-priority first. Expired messages are
	// included so the relay can transition them to Dead in place.
	Now time.Time
}

// OutboxStore claims batches of due outbox messages.
//
// A claimed message must be delivered by at most one worker at a time.
// Implementations satisfy the claim with row locks (mysql: FOR UPDATE SKIP
// LOCKED) or claim markers (memory).
type OutboxStore interface {
	// FetchDue returns a batch of due messages claimed for delivery, or
	// ErrNoMessages when nothing is due.
	FetchDue(ctx context.Context, opts FetchOptions) (Batch, error)
}

// Reschedule moves a failed message's next attempt into the future.
type Reschedule struct {
	ID uuid.UUID
	// NextAt becomes the message's new PriorityAt.
	NextAt time.Time
	Err    error
}

// Failure captures a permanent delivery error for a message.
type Failure struct {
	ID  uuid.UUID
	Err error
}

// Batch represents a claimed set of messages fetched for delivery. All
// mutations apply when Commit succeeds; Rollback releases claims untouched
// so the messages stay discoverable by FetchDue.
type Batch interface {
	// Messages returns the claimed messages ordered by PriorityAt ascending.
	Messages() []OutboxMessage
	// Complete marks the given messages delivered.
	Complete(ctx context.Context, ids []uuid.UUID) error
	// Fail increments each message's try count and reschedules it.
	Fail(ctx context.Context, reschedules []Reschedule) error
	// Dead marks the given messages permanently failed.
	Dead(ctx context.Context, failures []Failure) error
	// Commit finalizes the batch.
	Commit() error
	// Rollback releases claims without applying any changes.
	Rollback() error
}

// TransientCompleter supports the transient-dispatch optimization: marking a
// just-committed message completed outside a claimed batch. Stores that do
// not implement it simply leave transient work to the relay.
type TransientCompleter interface {
	// CompleteTransient marks the message delivered iff it is still in a
	// non-terminal state, reporting whether the mark was applied.
	CompleteTransient(ctx context.Context, id uuid.UUID) (bool, error)
}

// PendingCounter provides a queue-depth sample for metrics.
type PendingCounter interface {
	// PendingCount returns the number of undelivered, unexpired messages.
	PendingCount(ctx context.Context) (int, error)
}
