package eventfully

import (
	"context"
	"time"
)

// SagaState is the persisted state of one saga instance, keyed by
// correlation id. Terminal states are values, never deletions; cleanup is a
// host concern.
type SagaState struct {
	// CorrelationID is the saga instance key.
	CorrelationID string
	// SagaType names the saga definition owning this state.
	SagaType string
	// Current is the saga's opaque current-state marker.
	Current string
	// Data holds the saga's serialized instance data.
	Data []byte
	// Token is the optimistic concurrency token, incremented on every save.
	Token int64
	// IsNew reports that the state was created for this message and has not
	// been persisted yet.
	IsNew     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Saga reacts to a sequence of related messages sharing a correlation id.
// Implementations are stateless; all instance state lives in SagaState.
type Saga interface {
	// SagaType names the saga definition.
	SagaType() string
	// CorrelationID extracts the saga instance key from a message the saga
	// declared interest in.
	CorrelationID(msg Message) (string, error)
	// Handle processes one message against the instance state, mutating
	// state in place. Returning ErrSagaNotInterested acknowledges the
	// message without persisting state.
	Handle(ctx context.Context, state *SagaState, msg Message, sess *Session) error
}

// SagaStore loads and persists saga state within a dispatch transaction.
type SagaStore interface {
	// LoadSagaState returns the state stored under (sagaType, correlationID)
	// or a fresh IsNew state when none exists.
	LoadSagaState(ctx context.Context, sagaType, correlationID string) (*SagaState, error)
	// SaveSagaState inserts or updates the state. Updates must match the
	// loaded Token and fail with ErrSagaConcurrency on a lost race.
	SaveSagaState(ctx context.Context, state *SagaState) error
}

// NewSagaState returns a fresh, unpersisted state for a first message.
func NewSagaState(sagaType, correlationID string, now time.Time) *SagaState {
	now = now.UTC()

	return &SagaState{
		CorrelationID: correlationID,
		SagaType:      sagaType,
		IsNew:         true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
