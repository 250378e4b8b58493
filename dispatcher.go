package eventfully

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher is the inbound mirror of the relay. It consumes deliveries from
// every inbound endpoint of the profile, runs the endpoint's filter chain in
// reverse, resolves the message type against the registry, and invokes
// exactly one handler path (a plain handler or a correlated saga) inside
// one dispatch transaction. Success acknowledges the delivery; any failure
// before commit nacks it so the transport's own redelivery applies.
type Dispatcher struct {
	store     DispatchStore
	transport Transport
	registry  *Registry
	profile   *Profile
	cfg       DispatcherConfig
}

type inboundWork struct {
	endpoint *EndpointSettings
	delivery Delivery
}

// NewDispatcher constructs a dispatcher over store, transport, registry, and
// routing profile.
func NewDispatcher(store DispatchStore, transport Transport, registry *Registry, profile *Profile, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("eventfully: nil DispatchStore")
	}
	if transport == nil {
		panic("eventfully: nil Transport")
	}
	if registry == nil {
		panic("eventfully: nil Registry")
	}
	if profile == nil {
		panic("eventfully: nil Profile")
	}

	var cfg DispatcherConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		store:     store,
		transport: transport,
		registry:  registry,
		profile:   profile,
		cfg:       cfg,
	}
}

// Run subscribes to every inbound endpoint and processes deliveries with the
// configured number of lease-gated workers until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	endpoints := d.profile.InboundEndpoints()
	if len(endpoints) == 0 {
		<-ctx.Done()

		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan inboundWork, d.cfg.QueueSize)

	var subs []Subscription
	for _, endpoint := range endpoints {
		endpoint := endpoint
		sub, err := d.transport.Subscribe(ctx, endpoint, func(delivery Delivery) {
			select {
			case workCh <- inboundWork{endpoint: endpoint, delivery: delivery}:
			case <-ctx.Done():
				_ = delivery.Nack(context.WithoutCancel(ctx), ctx.Err())
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}

			return fmt.Errorf("eventfully: subscribe %q failed: %w", endpoint.Name, err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()

	errCh := make(chan error, d.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					d.cfg.Logger.Error("dispatcher worker panic", "worker", workerID, "panic", rec)
					errCh <- fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					cancel()
				}
			}()

			d.runWorker(ctx, workerID, workCh)
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}

	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID int, workCh <-chan inboundWork) {
	holder := newLeaseHolder(
		d.cfg.Semaphore,
		fmt.Sprintf("dispatch-%d-%s", workerID, uuid.NewString()),
		d.cfg.RenewInterval,
		d.cfg.Clock,
		d.cfg.Logger,
	)
	defer holder.release(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !holder.held {
			if !holder.acquire(ctx) {
				d.cfg.Metrics.AddLeaseDenied(1)
				if sleepCtx(ctx, d.cfg.AcquireInterval) != nil {
					return
				}

				continue
			}
		}
		if !holder.maybeRenew(ctx) {
			continue
		}

		// Wake up at least every IdleInterval so the lease keeps renewing
		// while the queue is empty.
		idle := time.NewTimer(d.cfg.IdleInterval)
		select {
		case <-ctx.Done():
			idle.Stop()

			return
		case work := <-workCh:
			idle.Stop()
			d.handle(ctx, work)
		case <-idle.C:
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, work inboundWork) {
	staged, err := d.HandleDelivery(ctx, work.endpoint, work.delivery)
	ackCtx := context.WithoutCancel(ctx)
	if err != nil {
		d.cfg.Metrics.AddRejected(1)
		if IsNonTransient(err) {
			d.cfg.Logger.Error("inbound message rejected permanently", "endpoint", work.endpoint.Name, "err", err)
		} else {
			d.cfg.Logger.Warn("inbound message failed, transport will redeliver", "endpoint", work.endpoint.Name, "err", err)
		}
		if nackErr := work.delivery.Nack(ackCtx, err); nackErr != nil {
			d.cfg.Logger.Warn("nack failed", "endpoint", work.endpoint.Name, "err", nackErr)
		}

		return
	}

	d.cfg.Metrics.AddHandled(1)
	if ackErr := work.delivery.Ack(ackCtx); ackErr != nil {
		d.cfg.Logger.Warn("ack failed", "endpoint", work.endpoint.Name, "err", ackErr)
	}

	if d.cfg.Transient != nil && len(staged) > 0 {
		d.cfg.Transient.Dispatch(ackCtx, staged)
	}
}

// HandleDelivery runs the full inbound pipeline for one delivery without
// acking or nacking: filter, resolve type, resolve handler, handle, commit.
// It returns the outbound messages the handler staged, for transient
// dispatch after commit.
func (d *Dispatcher) HandleDelivery(ctx context.Context, endpoint *EndpointSettings, delivery Delivery) ([]*OutboxMessage, error) {
	headers := delivery.Headers()

	fc := &FilterContext{
		MessageType: headers[HeaderMessageType],
		Endpoint:    endpoint.Name,
		Headers:     headers,
	}
	data, err := ApplyInbound(ctx, endpoint.Filters, delivery.Data(), fc)
	if err != nil {
		return nil, fmt.Errorf("inbound filter failed: %w", err)
	}

	props, err := d.registry.Props(headers[HeaderMessageType])
	if err != nil {
		return nil, err
	}
	if props.HasSagaHandler && !endpoint.BindsSaga {
		return nil, Permanent(fmt.Errorf("eventfully: saga-bound type %q delivered on endpoint %q without saga binding", props.Type, endpoint.Name))
	}

	msg := props.Factory()
	if err := d.cfg.Codec.Unmarshal(data, msg); err != nil {
		return nil, Permanent(fmt.Errorf("eventfully: decode %q failed: %w", props.Type, err))
	}

	handleCtx := ctx
	cancel := func() {}
	if d.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	}
	defer cancel()

	var staged []*OutboxMessage
	err = d.store.WithinTx(handleCtx, func(txCtx context.Context, tx DispatchTx) error {
		sess := NewSession(tx, d.cfg.Codec, d.cfg.Clock, headers[HeaderCorrelationID])

		var handleErr error
		if props.HasSagaHandler {
			handleErr = d.handleSaga(txCtx, tx, props, msg, sess)
		} else {
			handler, ok := d.registry.Handler(props.Type)
			if !ok {
				return fmt.Errorf("%w: %q", ErrHandlerNotFound, props.Type)
			}
			handleErr = handler.Handle(txCtx, msg, sess)
		}
		if handleErr != nil {
			return handleErr
		}
		staged = sess.Staged()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return staged, nil
}

func (d *Dispatcher) handleSaga(ctx context.Context, tx DispatchTx, props MessageTypeProperties, msg Message, sess *Session) error {
	saga, ok := d.registry.Saga(props.SagaType)
	if !ok {
		return fmt.Errorf("%w: saga %q", ErrHandlerNotFound, props.SagaType)
	}

	correlationID, err := saga.CorrelationID(msg)
	if err != nil {
		return Permanent(fmt.Errorf("eventfully: correlation key extraction for %q failed: %w", props.Type, err))
	}
	if correlationID == "" {
		return Permanent(fmt.Errorf("eventfully: empty correlation key for %q", props.Type))
	}

	state, err := tx.LoadSagaState(ctx, props.SagaType, correlationID)
	if err != nil {
		return err
	}
	if state == nil {
		state = NewSagaState(props.SagaType, correlationID, d.cfg.Clock.Now())
	}

	if err := saga.Handle(ctx, state, msg, sess); err != nil {
		if errors.Is(err, ErrSagaNotInterested) {
			d.cfg.Logger.Debug("saga not interested", "saga", props.SagaType, "type", props.Type, "correlation", correlationID)

			return nil
		}

		return err
	}

	state.UpdatedAt = d.cfg.Clock.Now()

	return tx.SaveSagaState(ctx, state)
}
