package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/cfrenzel/eventfully"
)

const erDupEntry = 1062

var _ eventfully.DispatchStore = (*Store)(nil)

// WithinTx runs fn inside one READ COMMITTED transaction. Saga state and
// staged outbox rows commit together iff fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx eventfully.DispatchTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("eventfully mysql: begin tx failed: %w", err)
	}

	if err := fn(ctx, &dispatchTx{tx: tx, store: s}); err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return errors.Join(err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventfully mysql: commit failed: %w", err)
	}

	return nil
}

type dispatchTx struct {
	tx    *sql.Tx
	store *Store
}

// StageOutbox inserts the message into the outbox within the dispatch
// transaction.
func (d *dispatchTx) StageOutbox(ctx context.Context, msg *eventfully.OutboxMessage) error {
	return d.store.Enqueue(ctx, d.tx, msg)
}

// LoadSagaState reads the saga instance row under a row lock, or returns a
// fresh IsNew state when the instance does not exist yet.
func (d *dispatchTx) LoadSagaState(ctx context.Context, sagaType, correlationID string) (*eventfully.SagaState, error) {
	state := &eventfully.SagaState{
		CorrelationID: correlationID,
		SagaType:      sagaType,
	}

	err := d.tx.QueryRowContext(ctx, d.store.queries.sagaSelect, sagaType, correlationID).Scan(
		&state.Current,
		&state.Data,
		&state.Token,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return eventfully.NewSagaState(sagaType, correlationID, d.store.cfg.Clock.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventfully mysql: saga load failed: %w", err)
	}

	return state, nil
}

// SaveSagaState inserts new instances and token-checks updates. A lost
// concurrency race surfaces as ErrSagaConcurrency.
func (d *dispatchTx) SaveSagaState(ctx context.Context, state *eventfully.SagaState) error {
	now := d.store.cfg.Clock.Now()

	if state.IsNew {
		_, err := d.tx.ExecContext(
			ctx,
			d.store.queries.sagaInsert,
			state.SagaType,
			state.CorrelationID,
			state.Current,
			state.Data,
			int64(1),
			state.CreatedAt.UTC(),
			now,
		)
		if isDuplicateEntry(err) {
			return eventfully.ErrSagaConcurrency
		}
		if err != nil {
			return fmt.Errorf("eventfully mysql: saga insert failed: %w", err)
		}
		state.IsNew = false
		state.Token = 1
		state.UpdatedAt = now

		return nil
	}

	res, err := d.tx.ExecContext(
		ctx,
		d.store.queries.sagaUpdate,
		state.Current,
		state.Data,
		now,
		state.SagaType,
		state.CorrelationID,
		state.Token,
	)
	if err != nil {
		return fmt.Errorf("eventfully mysql: saga update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventfully mysql: saga update failed: %w", err)
	}
	if affected == 0 {
		return eventfully.ErrSagaConcurrency
	}
	state.Token++
	state.UpdatedAt = now

	return nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == erDupEntry
	}

	return false
}
