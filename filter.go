package eventfully

import "context"

// FilterContext carries per-message information through a filter chain.
// Filters may read and write Headers; they never see persistence internals.
type FilterContext struct {
	MessageType string
	Endpoint    string
	Headers     map[string]string
}

// Filter is a byte-level transform attached to an endpoint. Chains apply
// Outbound in forward order before send and Inbound in reverse order after
// receive, so a chain of [compress, encrypt] decrypts before decompressing.
type Filter interface {
	// Outbound transforms payload bytes before send.
	Outbound(ctx context.Context, data []byte, fc *FilterContext) ([]byte, error)
	// Inbound reverses the transform after receive.
	Inbound(ctx context.Context, data []byte, fc *FilterContext) ([]byte, error)
}

// ApplyOutbound runs the chain in forward order.
func ApplyOutbound(ctx context.Context, filters []Filter, data []byte, fc *FilterContext) ([]byte, error) {
	var err error
	for _, filter := range filters {
		data, err = filter.Outbound(ctx, data, fc)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// ApplyInbound runs the chain in reverse order.
func ApplyInbound(ctx context.Context, filters []Filter, data []byte, fc *FilterContext) ([]byte, error) {
	var err error
	for i := len(filters) - 1; i >= 0; i-- {
		data, err = filters[i].Inbound(ctx, data, fc)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}
