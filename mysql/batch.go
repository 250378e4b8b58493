package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/cfrenzel/eventfully"
)

type batch struct {
	tx       *sql.Tx
	store    *Store
	messages []eventfully.OutboxMessage
}

// Messages returns the messages claimed by this batch.
func (b *batch) Messages() []eventfully.OutboxMessage {
	return b.messages
}

// Complete marks the provided messages as delivered.
func (b *batch) Complete(ctx context.Context, ids []uuid.UUID) error {
	return b.store.complete(ctx, b.tx, ids)
}

// Fail records delivery failures and schedules the next attempt for each.
func (b *batch) Fail(ctx context.Context, reschedules []eventfully.Reschedule) error {
	return b.store.fail(ctx, b.tx, reschedules)
}

// Dead marks the provided messages as permanently failed.
func (b *batch) Dead(ctx context.Context, failures []eventfully.Failure) error {
	return b.store.dead(ctx, b.tx, failures)
}

// Commit finalizes the batch transaction and releases the claim.
func (b *batch) Commit() error {
	return b.tx.Commit()
}

// Rollback releases row locks without applying any changes.
func (b *batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
