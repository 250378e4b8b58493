package eventfully

import (
	"encoding/json"
	"time"
)

// MetaData is the transport-independent envelope attached to a message.
// It is immutable once constructed; build it with NewMetaData and the
// MetaOption funcs.
type MetaData struct {
	MessageID             string        `json:"messageId,omitempty"`
	CorrelationID         string        `json:"correlationId,omitempty"`
	Delay                 time.Duration `json:"delay,omitempty"`
	SkipTransientDispatch bool          `json:"skipTransientDispatch,omitempty"`
}

// MetaOption configures MetaData at construction time.
type MetaOption func(*MetaData)

// WithCorrelationID sets the correlation id used for saga correlation.
func WithCorrelationID(id string) MetaOption {
	return func(m *MetaData) {
		m.CorrelationID = id
	}
}

// WithDelay postpones the earliest delivery attempt by d.
func WithDelay(d time.Duration) MetaOption {
	return func(m *MetaData) {
		m.Delay = d
	}
}

// WithSkipTransientDispatch disables the immediate in-process send attempt,
// leaving delivery to the relay alone.
func WithSkipTransientDispatch() MetaOption {
	return func(m *MetaData) {
		m.SkipTransientDispatch = true
	}
}

// NewMetaData constructs an envelope with the given message id.
func NewMetaData(messageID string, opts ...MetaOption) *MetaData {
	meta := &MetaData{MessageID: messageID}
	for _, opt := range opts {
		opt(meta)
	}

	return meta
}

// EncodeMetaData serializes metadata for storage alongside the payload.
// A nil metadata round-trips as nil.
func EncodeMetaData(meta *MetaData) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}

	return json.Marshal(meta)
}

// DecodeMetaData deserializes stored metadata. Empty input yields nil.
func DecodeMetaData(data []byte) (*MetaData, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var meta MetaData
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}
