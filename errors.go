package eventfully

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("eventfully: batch size must be positive")
	// ErrNoMessages signals that no due messages are available for relaying.
	ErrNoMessages = errors.New("eventfully: no due outbox messages")
	// ErrNilBatch indicates that a store returned a nil batch.
	ErrNilBatch = errors.New("eventfully: outbox batch is nil")
	// ErrEmptyBatch indicates that a store returned a batch with no messages.
	ErrEmptyBatch = errors.New("eventfully: outbox batch has no messages")
	// ErrMessageTypeRequired is returned when a message is staged without a type.
	ErrMessageTypeRequired = errors.New("eventfully: message type is required")
	// ErrPayloadRequired is returned when a message is staged without payload bytes.
	ErrPayloadRequired = errors.New("eventfully: message payload is required")

	// ErrEndpointNotFound is returned by the router when no endpoint is bound
	// to a message type. Non-transient.
	ErrEndpointNotFound = errors.New("eventfully: no endpoint bound to message type")
	// ErrUnknownMessageType is returned when a well-formed type string has no
	// registry entry. Non-transient.
	ErrUnknownMessageType = errors.New("eventfully: unknown message type")
	// ErrInvalidMessageType is returned when a type string is malformed and
	// can never resolve. Non-transient.
	ErrInvalidMessageType = errors.New("eventfully: invalid message type")
	// ErrMessageExpired is returned when a message passed its expiry deadline
	// before delivery. Non-transient.
	ErrMessageExpired = errors.New("eventfully: message expired")

	// ErrHandlerNotFound is returned when a registered message type has
	// neither a plain handler nor a saga binding.
	ErrHandlerNotFound = errors.New("eventfully: no handler registered for message type")
	// ErrSagaNotInterested may be returned by a saga handler to signal that
	// the message is ignored in the saga's current state. The message is
	// acknowledged and no state is persisted.
	ErrSagaNotInterested = errors.New("eventfully: saga not interested in message")
	// ErrSagaConcurrency indicates a saga state save lost an optimistic
	// concurrency race. Transient: the transport redelivers the message.
	ErrSagaConcurrency = errors.New("eventfully: saga state concurrency conflict")

	// ErrEncryptionKeyNotFound is returned when a key provider has no key
	// under the requested name. Non-transient.
	ErrEncryptionKeyNotFound = errors.New("eventfully: encryption key not found")

	// ErrServiceRunning is returned when Start is called on a running service.
	ErrServiceRunning = errors.New("eventfully: messaging service already running")
	// ErrWorkerPanic indicates a relay or dispatcher worker panic.
	ErrWorkerPanic = errors.New("eventfully: worker panic")
)
