package eventfully

import (
	"time"

	"github.com/google/uuid"
)

// Message is implemented by every dispatchable message type. The returned
// type string is the canonical identifier used by the registry and router.
type Message interface {
	MessageType() string
}

// OutboxMessage is a durable outbound message staged for delivery.
type OutboxMessage struct {
	ID       uuid.UUID
	Type     string
	Status   Status
	TryCount int
	// PriorityAt is the earliest point the message becomes eligible for a
	// delivery attempt. Backoff rescheduling moves it into the future.
	PriorityAt time.Time
	CreatedAt  time.Time
	// ExpiresAt is an optional absolute delivery deadline.
	ExpiresAt *time.Time
	// Endpoint is the resolved destination, empty until routed.
	Endpoint string
	// Payload holds the serialized message bytes.
	Payload []byte
	// Meta is the optional transport-independent envelope.
	Meta *MetaData
}

// OutboxOption configures an OutboxMessage at construction time.
type OutboxOption func(*OutboxMessage)

// WithExpiresAt sets an absolute delivery deadline.
func WithExpiresAt(t time.Time) OutboxOption {
	return func(m *OutboxMessage) {
		expires := t.UTC()
		m.ExpiresAt = &expires
	}
}

// WithPriorityAt overrides the earliest-delivery timestamp.
func WithPriorityAt(t time.Time) OutboxOption {
	return func(m *OutboxMessage) {
		m.PriorityAt = t.UTC()
	}
}

// WithEndpoint pre-assigns the destination endpoint name.
func WithEndpoint(name string) OutboxOption {
	return func(m *OutboxMessage) {
		m.Endpoint = name
	}
}

// NewOutboxMessage constructs a message ready for staging.
//
// Metadata may be nil. When metadata carries a delay, the first delivery
// attempt is postponed by it. Status defaults to Pending (transient dispatch
// eligible) unless metadata sets SkipTransientDispatch, in which case only
// the relay will ever pick it up and status starts Ready.
func NewOutboxMessage(messageType string, payload []byte, meta *MetaData, now time.Time, opts ...OutboxOption) (*OutboxMessage, error) {
	if messageType == "" {
		return nil, ErrMessageTypeRequired
	}
	if len(payload) == 0 {
		return nil, ErrPayloadRequired
	}

	now = now.UTC()
	msg := &OutboxMessage{
		ID:         uuid.Must(uuid.NewV7()),
		Type:       messageType,
		Status:     StatusPending,
		PriorityAt: now,
		CreatedAt:  now,
		Payload:    payload,
		Meta:       meta,
	}

	if meta != nil {
		if meta.SkipTransientDispatch {
			msg.Status = StatusReady
		}
		if meta.Delay > 0 {
			msg.PriorityAt = now.Add(meta.Delay)
		}
	}

	for _, opt := range opts {
		opt(msg)
	}

	return msg, nil
}

// IsExpired reports whether the message passed its deadline. The boundary is
// inclusive: a message expires exactly at ExpiresAt.
func (m *OutboxMessage) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.UTC().Before(*m.ExpiresAt)
}

// CorrelationID returns the envelope correlation id, if any.
func (m *OutboxMessage) CorrelationID() string {
	if m.Meta == nil {
		return ""
	}

	return m.Meta.CorrelationID
}
