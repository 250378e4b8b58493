package eventfully

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// fakeDispatchStore is a single-transaction store: saga states live in a map
// and staged messages are collected when fn succeeds.
type fakeDispatchStore struct {
	states    map[string]*SagaState
	staged    []*OutboxMessage
	loadErr   error
	saveCalls int
}

func newFakeDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{states: make(map[string]*SagaState)}
}

func (s *fakeDispatchStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx DispatchTx) error) error {
	tx := &fakeDispatchTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.staged = append(s.staged, tx.staged...)

	return nil
}

type fakeDispatchTx struct {
	store  *fakeDispatchStore
	staged []*OutboxMessage
}

func (t *fakeDispatchTx) StageOutbox(_ context.Context, msg *OutboxMessage) error {
	t.staged = append(t.staged, msg)

	return nil
}

func (t *fakeDispatchTx) LoadSagaState(_ context.Context, sagaType, correlationID string) (*SagaState, error) {
	if t.store.loadErr != nil {
		return nil, t.store.loadErr
	}
	if state, ok := t.store.states[sagaType+"/"+correlationID]; ok {
		cp := *state

		return &cp, nil
	}

	return NewSagaState(sagaType, correlationID, time.Now()), nil
}

func (t *fakeDispatchTx) SaveSagaState(_ context.Context, state *SagaState) error {
	t.store.saveCalls++
	state.IsNew = false
	state.Token++
	cp := *state
	t.store.states[state.SagaType+"/"+state.CorrelationID] = &cp

	return nil
}

type fakeDelivery struct {
	data    []byte
	headers map[string]string
	acked   bool
	nacked  bool
	reason  error
}

func (d *fakeDelivery) Data() []byte               { return d.data }
func (d *fakeDelivery) Headers() map[string]string { return d.headers }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true

	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, reason error) error {
	d.nacked = true
	d.reason = reason

	return nil
}

func inboundDelivery(t *testing.T, msg Message, correlationID string) *fakeDelivery {
	t.Helper()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	headers := map[string]string{
		HeaderMessageType: msg.MessageType(),
		HeaderMessageID:   "in-1",
	}
	if correlationID != "" {
		headers[HeaderCorrelationID] = correlationID
	}

	return &fakeDelivery{data: data, headers: headers}
}

func newTestDispatcher(t *testing.T, store DispatchStore, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	return NewDispatcher(store, &fakeTransport{}, registry, testProfile(t), opts...)
}

func TestHandleDeliveryPlainHandler(t *testing.T) {
	store := newFakeDispatchStore()
	registry := NewRegistry()

	var handled Message
	handler := HandlerFunc(func(ctx context.Context, msg Message, sess *Session) error {
		handled = msg

		return sess.Send(ctx, &orderShipped{OrderID: "o1"})
	})
	if err := registry.RegisterMessage(newOrderCreated, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, store, registry)
	delivery := inboundDelivery(t, &orderCreated{OrderID: "o1"}, "corr-1")

	staged, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery)
	if err != nil {
		t.Fatalf("handle delivery: %v", err)
	}

	created, ok := handled.(*orderCreated)
	if !ok || created.OrderID != "o1" {
		t.Fatalf("expected decoded message, got %#v", handled)
	}
	if len(staged) != 1 || staged[0].Type != "Order.Shipped" {
		t.Fatalf("expected staged outbound message, got %v", staged)
	}
	// The inbound correlation id propagates onto staged messages.
	if staged[0].CorrelationID() != "corr-1" {
		t.Fatalf("expected correlation propagation, got %q", staged[0].CorrelationID())
	}
	if len(store.staged) != 1 {
		t.Fatalf("expected staged message committed to store")
	}
}

func TestHandleDeliveryUnknownType(t *testing.T) {
	registry := NewRegistry()
	registry.Freeze()
	dispatcher := newTestDispatcher(t, newFakeDispatchStore(), registry)

	delivery := inboundDelivery(t, &orderCreated{OrderID: "o1"}, "")
	_, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery)
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
	if !IsNonTransient(err) {
		t.Fatalf("expected unknown type to be non-transient")
	}
}

func TestHandleDeliveryDecodeFailureIsPermanent(t *testing.T) {
	registry := NewRegistry()
	if err := registry.RegisterMessage(newOrderCreated, HandlerFunc(func(context.Context, Message, *Session) error {
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, newFakeDispatchStore(), registry)
	delivery := &fakeDelivery{
		data:    []byte(`{not json`),
		headers: map[string]string{HeaderMessageType: "Order.Created"},
	}

	_, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery)
	if err == nil || !IsNonTransient(err) {
		t.Fatalf("expected permanent decode failure, got %v", err)
	}
}

func TestHandleDeliveryMissingHandler(t *testing.T) {
	registry := NewRegistry()
	if err := registry.RegisterMessage(newOrderCreated, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, newFakeDispatchStore(), registry)
	delivery := inboundDelivery(t, &orderCreated{OrderID: "o1"}, "")

	_, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery)
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestHandleDeliverySagaRequiresBoundEndpoint(t *testing.T) {
	registry := NewRegistry()
	saga := &fakeSaga{sagaType: "OrderSaga"}
	if err := registry.RegisterSaga(saga, newOrderCreated); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	registry.Freeze()

	profile, err := NewProfile(EndpointSettings{
		Name:         "orders",
		Address:      "orders-stream",
		Direction:    Inbound,
		MessageTypes: []string{"Order.Created"},
	})
	if err != nil {
		t.Fatalf("new profile: %v", err)
	}

	store := newFakeDispatchStore()
	dispatcher := NewDispatcher(store, &fakeTransport{}, registry, profile)

	_, err = dispatcher.HandleDelivery(context.Background(), profile.InboundEndpoints()[0], inboundDelivery(t, &orderCreated{OrderID: "o1"}, ""))
	if err == nil || !IsNonTransient(err) {
		t.Fatalf("expected permanent rejection on unbound endpoint, got %v", err)
	}
	if len(saga.handled) != 0 {
		t.Fatalf("expected saga untouched, got %v", saga.handled)
	}
}

func TestHandleDeliverySagaCorrelation(t *testing.T) {
	store := newFakeDispatchStore()
	registry := NewRegistry()
	saga := &fakeSaga{sagaType: "OrderSaga"}
	if err := registry.RegisterSaga(saga, newOrderCreated, newOrderShipped); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, store, registry)
	endpoint := testProfile(t).InboundEndpoints()[0]

	// Two messages sharing an order id flow into one saga instance.
	if _, err := dispatcher.HandleDelivery(context.Background(), endpoint, inboundDelivery(t, &orderCreated{OrderID: "o1"}, "")); err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if _, err := dispatcher.HandleDelivery(context.Background(), endpoint, inboundDelivery(t, &orderShipped{OrderID: "o1"}, "")); err != nil {
		t.Fatalf("handle shipped: %v", err)
	}

	if len(saga.handled) != 2 {
		t.Fatalf("expected 2 saga invocations, got %d", len(saga.handled))
	}
	state, ok := store.states["OrderSaga/o1"]
	if !ok {
		t.Fatalf("expected saga state persisted")
	}
	if state.Current != "Order.Shipped" || state.Token != 2 {
		t.Fatalf("unexpected saga state: %+v", state)
	}

	// A different order id is a different instance.
	if _, err := dispatcher.HandleDelivery(context.Background(), endpoint, inboundDelivery(t, &orderCreated{OrderID: "o2"}, "")); err != nil {
		t.Fatalf("handle o2: %v", err)
	}
	if _, ok := store.states["OrderSaga/o2"]; !ok {
		t.Fatalf("expected second saga instance")
	}
}

func TestHandleDeliverySagaNotInterested(t *testing.T) {
	store := newFakeDispatchStore()
	registry := NewRegistry()
	saga := &fakeSaga{sagaType: "OrderSaga", handleErr: ErrSagaNotInterested}
	if err := registry.RegisterSaga(saga, newOrderCreated); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, store, registry)
	delivery := inboundDelivery(t, &orderCreated{OrderID: "o1"}, "")

	if _, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery); err != nil {
		t.Fatalf("expected not-interested to ack cleanly, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no state save for uninterested saga")
	}
}

func TestHandleDeliveryEmptyCorrelationIsPermanent(t *testing.T) {
	registry := NewRegistry()
	saga := &fakeSaga{sagaType: "OrderSaga"}
	if err := registry.RegisterSaga(saga, newOrderCreated); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, newFakeDispatchStore(), registry)
	delivery := inboundDelivery(t, &orderCreated{}, "")

	_, err := dispatcher.HandleDelivery(context.Background(), testProfile(t).InboundEndpoints()[0], delivery)
	if err == nil || !IsNonTransient(err) {
		t.Fatalf("expected permanent failure for empty correlation key, got %v", err)
	}
}

func TestDispatcherHandleAcksAndNacks(t *testing.T) {
	store := newFakeDispatchStore()
	registry := NewRegistry()
	if err := registry.RegisterMessage(newOrderCreated, HandlerFunc(func(context.Context, Message, *Session) error {
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Freeze()

	dispatcher := newTestDispatcher(t, store, registry)
	endpoint := testProfile(t).InboundEndpoints()[0]

	good := inboundDelivery(t, &orderCreated{OrderID: "o1"}, "")
	dispatcher.handle(context.Background(), inboundWork{endpoint: endpoint, delivery: good})
	if !good.acked || good.nacked {
		t.Fatalf("expected successful delivery acked")
	}

	bad := &fakeDelivery{data: []byte(`{}`), headers: map[string]string{HeaderMessageType: "No.Such.Type"}}
	dispatcher.handle(context.Background(), inboundWork{endpoint: endpoint, delivery: bad})
	if !bad.nacked || bad.acked {
		t.Fatalf("expected failed delivery nacked")
	}
	if !errors.Is(bad.reason, ErrUnknownMessageType) {
		t.Fatalf("unexpected nack reason: %v", bad.reason)
	}
}
