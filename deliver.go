package eventfully

import (
	"context"
	"fmt"
)

// sender is the shared outbound delivery path of the relay and the transient
// dispatcher: resolve the endpoint, run the outbound filter chain, hand the
// bytes to the transport.
type sender struct {
	transport Transport
	profile   *Profile
}

func (s sender) deliver(ctx context.Context, msg *OutboxMessage) error {
	endpoint, err := s.resolve(msg)
	if err != nil {
		return err
	}

	headers := map[string]string{
		HeaderMessageType: msg.Type,
		HeaderMessageID:   msg.ID.String(),
	}
	if msg.Meta != nil && msg.Meta.MessageID != "" {
		headers[HeaderMessageID] = msg.Meta.MessageID
	}
	if correlationID := msg.CorrelationID(); correlationID != "" {
		headers[HeaderCorrelationID] = correlationID
	}

	fc := &FilterContext{
		MessageType: msg.Type,
		Endpoint:    endpoint.Name,
		Headers:     headers,
	}
	data, err := ApplyOutbound(ctx, endpoint.Filters, msg.Payload, fc)
	if err != nil {
		return fmt.Errorf("outbound filter failed: %w", err)
	}

	return s.transport.Send(ctx, endpoint, data, fc.Headers)
}

// resolve honors a pre-assigned endpoint, falling back to the router.
func (s sender) resolve(msg *OutboxMessage) (*EndpointSettings, error) {
	if msg.Endpoint != "" {
		endpoint, ok := s.profile.Endpoint(msg.Endpoint)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, msg.Endpoint)
		}

		return endpoint, nil
	}

	return s.profile.Resolve(msg.Type)
}
