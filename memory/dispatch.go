package memory

import (
	"context"

	"github.com/cfrenzel/eventfully"
)

// WithinTx runs fn while holding the store mutex, buffering all writes and
// applying them only when fn returns nil. Transactions are fully serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx eventfully.DispatchTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &dispatchTx{store: s, sagaWrites: make(map[sagaKey]eventfully.SagaState)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for _, msg := range tx.staged {
		s.insert(msg)
	}
	for key, state := range tx.sagaWrites {
		s.sagas[key] = &sagaRecord{state: state}
	}

	return nil
}

type dispatchTx struct {
	store      *Store
	staged     []*eventfully.OutboxMessage
	sagaWrites map[sagaKey]eventfully.SagaState
}

// StageOutbox buffers the message for insertion at commit.
func (d *dispatchTx) StageOutbox(_ context.Context, msg *eventfully.OutboxMessage) error {
	d.staged = append(d.staged, msg)

	return nil
}

// LoadSagaState returns the stored or transaction-local state, or a fresh
// IsNew state when the instance does not exist.
func (d *dispatchTx) LoadSagaState(_ context.Context, sagaType, correlationID string) (*eventfully.SagaState, error) {
	key := sagaKey{sagaType: sagaType, correlationID: correlationID}

	if state, ok := d.sagaWrites[key]; ok {
		cp := state

		return &cp, nil
	}
	if rec, ok := d.store.sagas[key]; ok {
		cp := rec.state

		return &cp, nil
	}

	return eventfully.NewSagaState(sagaType, correlationID, d.store.clock.Now()), nil
}

// SaveSagaState buffers the state write, enforcing the optimistic token.
func (d *dispatchTx) SaveSagaState(_ context.Context, state *eventfully.SagaState) error {
	key := sagaKey{sagaType: state.SagaType, correlationID: state.CorrelationID}
	now := d.store.clock.Now()

	current, exists := d.sagaWrites[key]
	if !exists {
		if rec, ok := d.store.sagas[key]; ok {
			current = rec.state
			exists = true
		}
	}

	if state.IsNew {
		if exists {
			return eventfully.ErrSagaConcurrency
		}
		state.IsNew = false
		state.Token = 1
		state.UpdatedAt = now
		d.sagaWrites[key] = *state

		return nil
	}

	if !exists || current.Token != state.Token {
		return eventfully.ErrSagaConcurrency
	}
	state.Token++
	state.UpdatedAt = now
	d.sagaWrites[key] = *state

	return nil
}
