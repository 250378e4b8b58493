package eventfully

import (
	"context"
	"fmt"
	"reflect"
)

// MessageFactory constructs an empty instance of a message type for decoding.
type MessageFactory func() Message

// Handler processes a single inbound message outside any saga. Newly staged
// outbound messages go through the session and commit atomically with the
// dispatch transaction.
type Handler interface {
	// Handle processes one decoded message.
	Handle(ctx context.Context, msg Message, sess *Session) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, sess *Session) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, msg Message, sess *Session) error {
	return fn(ctx, msg, sess)
}

// MessageTypeProperties describes one registered message type.
type MessageTypeProperties struct {
	// Type is the canonical type string.
	Type string
	// Factory constructs empty instances for decoding.
	Factory MessageFactory
	// HasSagaHandler reports whether a saga, rather than a plain handler,
	// consumes this type.
	HasSagaHandler bool
	// SagaType names the owning saga when HasSagaHandler is set.
	SagaType string
}

// Registry is the startup-built map of message types to factories, handlers,
// and saga bindings. It is immutable after Freeze and safe for concurrent
// reads; all registration happens before workers start.
type Registry struct {
	types    map[string]MessageTypeProperties
	handlers map[string]Handler
	sagas    map[string]Saga
	frozen   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]MessageTypeProperties),
		handlers: make(map[string]Handler),
		sagas:    make(map[string]Saga),
	}
}

// RegisterMessage binds a message type to a factory and an optional plain
// handler. Factories must return pointers so the decoded payload can be
// written into them. Registration of a duplicate or saga-bound type fails.
func (r *Registry) RegisterMessage(factory MessageFactory, handler Handler) error {
	if r.frozen {
		return fmt.Errorf("eventfully: registry is frozen")
	}
	if factory == nil {
		return fmt.Errorf("eventfully: nil message factory")
	}

	msgType, err := factoryMessageType(factory)
	if err != nil {
		return err
	}
	if _, exists := r.types[msgType]; exists {
		return fmt.Errorf("eventfully: message type %q already registered", msgType)
	}

	r.types[msgType] = MessageTypeProperties{Type: msgType, Factory: factory}
	if handler != nil {
		r.handlers[msgType] = handler
	}

	return nil
}

// RegisterSaga binds a saga and the message types it declares interest in.
// Each factory's type is recorded with the saga as its handler; a type
// already bound to a plain handler or another saga fails.
func (r *Registry) RegisterSaga(saga Saga, factories ...MessageFactory) error {
	if r.frozen {
		return fmt.Errorf("eventfully: registry is frozen")
	}
	if saga == nil {
		return fmt.Errorf("eventfully: nil saga")
	}
	if saga.SagaType() == "" {
		return fmt.Errorf("eventfully: saga type is required")
	}
	if _, exists := r.sagas[saga.SagaType()]; exists {
		return fmt.Errorf("eventfully: saga %q already registered", saga.SagaType())
	}
	if len(factories) == 0 {
		return fmt.Errorf("eventfully: saga %q declares no message types", saga.SagaType())
	}

	for _, factory := range factories {
		if factory == nil {
			return fmt.Errorf("eventfully: nil message factory for saga %q", saga.SagaType())
		}

		msgType, err := factoryMessageType(factory)
		if err != nil {
			return err
		}
		if _, exists := r.types[msgType]; exists {
			return fmt.Errorf("eventfully: message type %q already registered", msgType)
		}

		r.types[msgType] = MessageTypeProperties{
			Type:           msgType,
			Factory:        factory,
			HasSagaHandler: true,
			SagaType:       saga.SagaType(),
		}
	}

	r.sagas[saga.SagaType()] = saga

	return nil
}

// factoryMessageType probes a factory once and validates its output. The
// produced value must be a non-nil pointer, since decoding unmarshals into it.
func factoryMessageType(factory MessageFactory) (string, error) {
	msg := factory()
	if msg == nil {
		return "", fmt.Errorf("eventfully: message factory returned nil")
	}

	rv := reflect.ValueOf(msg)
	if rv.Kind() != reflect.Pointer {
		return "", fmt.Errorf("eventfully: message factory for %q must return a pointer, got %T", msg.MessageType(), msg)
	}
	if rv.IsNil() {
		return "", fmt.Errorf("eventfully: message factory returned a nil %T", msg)
	}

	msgType := msg.MessageType()
	if err := ValidateMessageType(msgType); err != nil {
		return "", err
	}

	return msgType, nil
}

// Freeze closes the registry for further registration. Workers must only see
// frozen registries.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Props returns the properties of a message type, distinguishing a malformed
// type string (ErrInvalidMessageType) from an unrecognized one
// (ErrUnknownMessageType).
func (r *Registry) Props(messageType string) (MessageTypeProperties, error) {
	if err := ValidateMessageType(messageType); err != nil {
		return MessageTypeProperties{}, err
	}

	props, ok := r.types[messageType]
	if !ok {
		return MessageTypeProperties{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}

	return props, nil
}

// Handler returns the plain handler for a message type.
func (r *Registry) Handler(messageType string) (Handler, bool) {
	handler, ok := r.handlers[messageType]

	return handler, ok
}

// Saga returns the saga registered under the given saga type.
func (r *Registry) Saga(sagaType string) (Saga, bool) {
	saga, ok := r.sagas[sagaType]

	return saga, ok
}

// ValidateMessageType checks that a type string is well formed: non-empty,
// and limited to letters, digits, '.', '-' and '_' with no leading or
// trailing separator.
func ValidateMessageType(messageType string) error {
	if messageType == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMessageType)
	}
	if messageType[0] == '.' || messageType[len(messageType)-1] == '.' {
		return fmt.Errorf("%w: %q", ErrInvalidMessageType, messageType)
	}
	for _, r := range messageType {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMessageType, messageType)
		}
	}

	return nil
}
