package eventfully

import "context"

// Header keys the core writes on every outbound message.
const (
	HeaderMessageType   = "x-message-type"
	HeaderMessageID     = "x-message-id"
	HeaderCorrelationID = "x-correlation-id"
)

// Delivery encapsulates a received message with ack/nack semantics. A nacked
// message is redelivered by the transport's own retry or dead-letter policy.
type Delivery interface {
	// Data returns the raw payload bytes as received.
	Data() []byte
	// Headers returns the transport headers, including the core's x-message-*
	// keys and any filter-written keys.
	Headers() map[string]string
	// Ack acknowledges successful handling.
	Ack(ctx context.Context) error
	// Nack rejects the message so the transport's redelivery applies.
	Nack(ctx context.Context, reason error) error
}

// Subscription is an active consumer binding that can be closed.
type Subscription interface {
	Close() error
}

// Transport is the boundary to a concrete broker. The core only requires
// at-least-once delivery and the ability to classify a send failure as
// transient or permanent (via FailureClassifier).
type Transport interface {
	// Send delivers payload bytes and headers to the endpoint's address.
	Send(ctx context.Context, endpoint *EndpointSettings, data []byte, headers map[string]string) error
	// Subscribe binds fn to the endpoint's address. The transport drives
	// delivery in the background and honors ctx for shutdown.
	Subscribe(ctx context.Context, endpoint *EndpointSettings, fn func(Delivery)) (Subscription, error)
	// Close releases broker resources.
	Close(ctx context.Context) error
}
