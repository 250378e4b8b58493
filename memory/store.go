package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cfrenzel/eventfully"
)

type sagaKey struct {
	sagaType      string
	correlationID string
}

type sagaRecord struct {
	state eventfully.SagaState
}

// Store is an in-memory outbox, saga store, and dispatch transaction
// boundary.
type Store struct {
	clock eventfully.Clock

	mu       sync.Mutex
	messages map[uuid.UUID]*eventfully.OutboxMessage
	claimed  map[uuid.UUID]bool
	sagas    map[sagaKey]*sagaRecord
}

var _ eventfully.OutboxStore = (*Store)(nil)
var _ eventfully.TransientCompleter = (*Store)(nil)
var _ eventfully.PendingCounter = (*Store)(nil)
var _ eventfully.DispatchStore = (*Store)(nil)

// NewStore constructs an empty in-memory store.
func NewStore(clock eventfully.Clock) *Store {
	if clock == nil {
		clock = eventfully.SystemClock{}
	}

	return &Store{
		clock:    clock,
		messages: make(map[uuid.UUID]*eventfully.OutboxMessage),
		claimed:  make(map[uuid.UUID]bool),
		sagas:    make(map[sagaKey]*sagaRecord),
	}
}

// Enqueue adds a message directly, outside any dispatch transaction.
func (s *Store) Enqueue(_ context.Context, msg *eventfully.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insert(msg)

	return nil
}

// caller holds s.mu
func (s *Store) insert(msg *eventfully.OutboxMessage) {
	cp := *msg
	s.messages[cp.ID] = &cp
}

// FetchDue claims due messages oldest-priority first. Claims are held until
// the batch commits or rolls back.
func (s *Store) FetchDue(_ context.Context, opts eventfully.FetchOptions) (eventfully.Batch, error) {
	if opts.Limit <= 0 {
		return nil, eventfully.ErrInvalidBatchSize
	}
	now := opts.Now
	if now.IsZero() {
		now = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]eventfully.OutboxMessage, 0, opts.Limit)
	for id, msg := range s.messages {
		if s.claimed[id] || msg.Status.IsTerminal() || msg.PriorityAt.After(now) {
			continue
		}
		due = append(due, *msg)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].PriorityAt.Before(due[j].PriorityAt)
	})
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}
	if len(due) == 0 {
		return nil, eventfully.ErrNoMessages
	}

	for _, msg := range due {
		s.claimed[msg.ID] = true
	}

	return &batch{store: s, messages: due}, nil
}

// CompleteTransient marks the message delivered iff still undelivered.
func (s *Store) CompleteTransient(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || s.claimed[id] || msg.Status.IsTerminal() {
		return false, nil
	}
	msg.Status = eventfully.StatusCompleted

	return true, nil
}

// PendingCount returns the number of undelivered messages.
func (s *Store) PendingCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, msg := range s.messages {
		if !msg.Status.IsTerminal() {
			count++
		}
	}

	return count, nil
}

// Message returns a copy of the stored message, for tests.
func (s *Store) Message(id uuid.UUID) (eventfully.OutboxMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return eventfully.OutboxMessage{}, false
	}

	return *msg, true
}

// SagaStateSnapshot returns a copy of the saga state, for tests.
func (s *Store) SagaStateSnapshot(sagaType, correlationID string) (eventfully.SagaState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sagas[sagaKey{sagaType: sagaType, correlationID: correlationID}]
	if !ok {
		return eventfully.SagaState{}, false
	}

	return rec.state, true
}

type batch struct {
	store    *Store
	messages []eventfully.OutboxMessage

	mu          sync.Mutex
	completed   []uuid.UUID
	rescheduled []eventfully.Reschedule
	dead        []eventfully.Failure
	done        bool
}

// Messages returns the claimed messages ordered by PriorityAt ascending.
func (b *batch) Messages() []eventfully.OutboxMessage {
	return b.messages
}

// Complete records the given ids for completion on Commit.
func (b *batch) Complete(_ context.Context, ids []uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, ids...)

	return nil
}

// Fail records reschedules to apply on Commit.
func (b *batch) Fail(_ context.Context, reschedules []eventfully.Reschedule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescheduled = append(b.rescheduled, reschedules...)

	return nil
}

// Dead records permanent failures to apply on Commit.
func (b *batch) Dead(_ context.Context, failures []eventfully.Failure) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, failures...)

	return nil
}

// Commit applies the recorded mutations and releases the claims.
func (b *batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range b.completed {
		if msg, ok := s.messages[id]; ok {
			msg.Status = eventfully.StatusCompleted
		}
	}
	for _, re := range b.rescheduled {
		if msg, ok := s.messages[re.ID]; ok {
			msg.TryCount++
			msg.PriorityAt = re.NextAt
		}
	}
	for _, failure := range b.dead {
		if msg, ok := s.messages[failure.ID]; ok {
			msg.Status = eventfully.StatusDead
		}
	}
	b.release()

	return nil
}

// Rollback releases the claims without applying any changes.
func (b *batch) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.release()

	return nil
}

// caller holds store.mu
func (b *batch) release() {
	for _, msg := range b.messages {
		delete(b.store.claimed, msg.ID)
	}
}
