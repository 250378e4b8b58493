package redisstream

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/cfrenzel/eventfully"
)

const (
	fieldOrigStream = "orig-stream"
	fieldOrigID     = "orig-id"
	fieldError      = "error"
)

type delivery struct {
	transport *Transport
	stream    string
	id        string
	data      []byte
	headers   map[string]string
	once      sync.Once
}

var _ eventfully.Delivery = (*delivery)(nil)

// Data returns the raw payload bytes.
func (d *delivery) Data() []byte { return d.data }

// Headers returns the transport headers.
func (d *delivery) Headers() map[string]string { return d.headers }

// Ack removes the entry from the group's pending list.
func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		err = d.transport.client.XAck(ctx, d.stream, d.transport.cfg.Group, d.id).Err()
	})

	return err
}

// Nack forwards the entry to the dead-letter stream when one is configured,
// acking the original. Without a dead letter the entry stays pending and the
// group's redelivery applies.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	dl := d.transport.cfg.DeadLetter
	if dl == "" {
		return nil
	}

	var err error
	d.once.Do(func() {
		values := encodeValues(d.data, d.headers)
		values[fieldOrigStream] = d.stream
		values[fieldOrigID] = d.id
		if reason != nil {
			values[fieldError] = reason.Error()
		}

		if err = d.transport.client.XAdd(ctx, &redis.XAddArgs{
			Stream: dl,
			ID:     "*",
			Values: values,
		}).Err(); err != nil {
			return
		}
		err = d.transport.client.XAck(ctx, d.stream, d.transport.cfg.Group, d.id).Err()
	})

	return err
}
