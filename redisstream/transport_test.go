package redisstream

import (
	"testing"
	"time"

	"github.com/cfrenzel/eventfully"
)

func TestEncodeDecodeValues(t *testing.T) {
	headers := map[string]string{
		eventfully.HeaderMessageType: "Order.Created",
		eventfully.HeaderMessageID:   "m1",
	}
	values := encodeValues([]byte(`{"id":1}`), headers)

	if len(values) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(values))
	}

	// Redis hands values back as strings.
	wire := make(map[string]any, len(values))
	for k, v := range values {
		switch tv := v.(type) {
		case []byte:
			wire[k] = string(tv)
		default:
			wire[k] = tv
		}
	}

	data, decoded := decodeValues(wire)
	if string(data) != `{"id":1}` {
		t.Fatalf("unexpected payload: %s", data)
	}
	if decoded[eventfully.HeaderMessageType] != "Order.Created" {
		t.Fatalf("unexpected headers: %v", decoded)
	}
	if decoded[eventfully.HeaderMessageID] != "m1" {
		t.Fatalf("unexpected headers: %v", decoded)
	}
}

func TestDecodeValuesIgnoresUnknownFields(t *testing.T) {
	data, headers := decodeValues(map[string]any{
		fieldPayload: "abc",
		"unrelated":  "x",
		"hdr:x-a":    "1",
	})
	if string(data) != "abc" {
		t.Fatalf("unexpected payload: %s", data)
	}
	if len(headers) != 1 || headers["x-a"] != "1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Group != defaultGroup {
		t.Fatalf("unexpected group: %s", cfg.Group)
	}
	if cfg.Consumer == "" {
		t.Fatalf("expected generated consumer name")
	}
	if cfg.BatchSize != defaultBatchSize || cfg.Block != defaultBlock {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Logger == nil {
		t.Fatalf("expected default logger")
	}

	custom := Config{Group: "g", Consumer: "c", BatchSize: 1, Block: time.Second}.withDefaults()
	if custom.Group != "g" || custom.Consumer != "c" || custom.BatchSize != 1 || custom.Block != time.Second {
		t.Fatalf("expected explicit values preserved: %+v", custom)
	}
}

func TestNewTransportRequiresClient(t *testing.T) {
	if _, err := NewTransport(nil); err != ErrClientRequired {
		t.Fatalf("expected ErrClientRequired, got %v", err)
	}
}
