package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/cfrenzel/eventfully"
)

// ErrTransportClosed is returned by Send and Subscribe after Close.
var ErrTransportClosed = errors.New("eventfully memory: transport closed")

const defaultQueueSize = 256

// Transport routes messages between in-process endpoints over buffered
// channels. Nacked deliveries are requeued immediately.
type Transport struct {
	mu     sync.Mutex
	queues map[string]chan *delivery
	closed bool
	wg     sync.WaitGroup
	cancel []context.CancelFunc
}

var _ eventfully.Transport = (*Transport)(nil)

// NewTransport constructs an in-memory transport.
func NewTransport() *Transport {
	return &Transport{queues: make(map[string]chan *delivery)}
}

// Send queues the payload on the endpoint address's channel.
func (t *Transport) Send(ctx context.Context, endpoint *eventfully.EndpointSettings, data []byte, headers map[string]string) error {
	queue, err := t.queue(endpoint.Address)
	if err != nil {
		return err
	}

	d := &delivery{
		data:    append([]byte(nil), data...),
		headers: maps.Clone(headers),
		queue:   queue,
	}

	select {
	case queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe drains the endpoint address's channel, invoking fn for each
// delivery until ctx or the subscription ends.
func (t *Transport) Subscribe(ctx context.Context, endpoint *eventfully.EndpointSettings, fn func(eventfully.Delivery)) (eventfully.Subscription, error) {
	queue, err := t.queue(endpoint.Address)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = append(t.cancel, cancel)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-subCtx.Done():
				return
			case d := <-queue:
				fn(d)
			}
		}
	}()

	return &subscription{cancel: cancel}, nil
}

// Close stops all subscriptions and rejects further sends.
func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return nil
	}
	t.closed = true
	cancels := t.cancel
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	t.wg.Wait()

	return nil
}

func (t *Transport) queue(address string) (chan *delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	queue, ok := t.queues[address]
	if !ok {
		queue = make(chan *delivery, defaultQueueSize)
		t.queues[address] = queue
	}

	return queue, nil
}

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)

	return nil
}

type delivery struct {
	data    []byte
	headers map[string]string
	queue   chan *delivery
	once    sync.Once
}

// Data returns the raw payload bytes.
func (d *delivery) Data() []byte { return d.data }

// Headers returns the transport headers.
func (d *delivery) Headers() map[string]string { return d.headers }

// Ack acknowledges the delivery.
func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() {})

	return nil
}

// Nack requeues the delivery for another attempt.
func (d *delivery) Nack(ctx context.Context, _ error) error {
	var err error
	d.once.Do(func() {
		redelivered := &delivery{data: d.data, headers: d.headers, queue: d.queue}
		select {
		case d.queue <- redelivered:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})

	return err
}
