package eventfully

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DispatchTx is the set of store operations available inside one dispatch
// transaction: saga state access and outbox staging. Everything done through
// it commits or rolls back atomically with the handler's own effects.
type DispatchTx interface {
	SagaStore
	// StageOutbox adds an outbound message to the transaction's outbox.
	StageOutbox(ctx context.Context, msg *OutboxMessage) error
}

// DispatchStore provides the local-transaction boundary for inbound
// handling.
type DispatchStore interface {
	// WithinTx runs fn inside one transaction, committing iff fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx DispatchTx) error) error
}

// Session is the outbox session threaded through handler and saga calls. It
// stages outbound messages in the ambient dispatch transaction; commit is
// the dispatcher's responsibility.
type Session struct {
	tx            DispatchTx
	codec         Codec
	clock         Clock
	correlationID string
	staged        []*OutboxMessage
}

// NewSession builds a session over tx. The correlation id of the message
// being handled, if any, is propagated onto staged messages that do not set
// their own.
func NewSession(tx DispatchTx, codec Codec, clock Clock, correlationID string) *Session {
	if codec == nil {
		codec = JSONCodec{}
	}
	if clock == nil {
		clock = SystemClock{}
	}

	return &Session{
		tx:            tx,
		codec:         codec,
		clock:         clock,
		correlationID: correlationID,
	}
}

// Send encodes msg and stages it on the session's transaction.
func (s *Session) Send(ctx context.Context, msg Message, opts ...MetaOption) error {
	payload, err := s.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("eventfully: encode %q failed: %w", msg.MessageType(), err)
	}

	meta := NewMetaData(uuid.NewString(), opts...)
	if meta.CorrelationID == "" {
		meta.CorrelationID = s.correlationID
	}

	outMsg, err := NewOutboxMessage(msg.MessageType(), payload, meta, s.clock.Now())
	if err != nil {
		return err
	}

	if err := s.tx.StageOutbox(ctx, outMsg); err != nil {
		return err
	}
	s.staged = append(s.staged, outMsg)

	return nil
}

// Staged returns the messages staged so far, in send order. The transient
// dispatcher consults it after the transaction commits.
func (s *Session) Staged() []*OutboxMessage {
	return s.staged
}
