package redisstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cfrenzel/eventfully"
)

const (
	fieldPayload      = "payload"
	fieldHeaderPrefix = "hdr:"
)

// ErrClientRequired is returned when a nil redis client is provided.
var ErrClientRequired = errors.New("eventfully redisstream: client is required")

// Transport delivers messages over Redis Streams.
type Transport struct {
	client redis.UniversalClient
	cfg    Config

	closeOnce sync.Once
}

var _ eventfully.Transport = (*Transport)(nil)

// NewTransport constructs a transport over an existing redis client. The
// caller owns the client's connection settings; Close closes it.
func NewTransport(client redis.UniversalClient, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Transport{client: client, cfg: cfg.withDefaults()}, nil
}

// Send appends the payload and headers to the endpoint address's stream.
func (t *Transport) Send(ctx context.Context, endpoint *eventfully.EndpointSettings, data []byte, headers map[string]string) error {
	args := &redis.XAddArgs{
		Stream: endpoint.Address,
		ID:     "*",
		Values: encodeValues(data, headers),
	}
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen = t.cfg.MaxLenApprox
		args.Approx = true
	}

	return t.client.XAdd(ctx, args).Err()
}

// Subscribe creates the consumer group if needed and starts a read loop
// feeding fn. The loop stops when ctx is done or the subscription closes.
func (t *Transport) Subscribe(ctx context.Context, endpoint *eventfully.EndpointSettings, fn func(eventfully.Delivery)) (eventfully.Subscription, error) {
	err := t.client.XGroupCreateMkStream(ctx, endpoint.Address, t.cfg.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.readLoop(subCtx, endpoint.Address, fn)
	}()

	return &subscription{cancel: cancel, done: done}, nil
}

func (t *Transport) readLoop(ctx context.Context, stream string, fn func(eventfully.Delivery)) {
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.Group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(t.cfg.BatchSize),
		Block:    t.cfg.Block,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			t.cfg.Logger.Warn("redis stream read failed", "stream", stream, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				data, headers := decodeValues(entry.Values)
				fn(&delivery{
					transport: t,
					stream:    stream,
					id:        entry.ID,
					data:      data,
					headers:   headers,
				})
			}
		}
	}
}

// Close closes the underlying redis client.
func (t *Transport) Close(context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		err = t.client.Close()
	})

	return err
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops the read loop and waits for it to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})

	return nil
}

func encodeValues(data []byte, headers map[string]string) map[string]any {
	values := make(map[string]any, 1+len(headers))
	values[fieldPayload] = data
	for k, v := range headers {
		values[fieldHeaderPrefix+k] = v
	}

	return values
}

func decodeValues(values map[string]any) ([]byte, map[string]string) {
	var data []byte
	headers := make(map[string]string, len(values))

	for k, v := range values {
		if k == fieldPayload {
			data = asBytes(v)
			continue
		}
		if name, ok := strings.CutPrefix(k, fieldHeaderPrefix); ok {
			headers[name] = asString(v)
		}
	}

	return data, headers
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
