package eventfully

import (
	"errors"
	"testing"
	"time"
)

func TestNewOutboxMessageDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := NewMetaData("m1")

	msg, err := NewOutboxMessage("Order.Created", []byte(`{}`), meta, now)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if msg.ID.Version() != 7 {
		t.Fatalf("expected time-ordered id, got version %d", msg.ID.Version())
	}
	if msg.Status != StatusPending {
		t.Fatalf("expected pending status, got %v", msg.Status)
	}
	if !msg.PriorityAt.Equal(now) || !msg.CreatedAt.Equal(now) {
		t.Fatalf("expected timestamps pinned to now")
	}
	if msg.ExpiresAt != nil {
		t.Fatalf("expected no expiry by default")
	}
}

func TestNewOutboxMessageValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewOutboxMessage("", []byte(`{}`), nil, now); !errors.Is(err, ErrMessageTypeRequired) {
		t.Fatalf("expected ErrMessageTypeRequired, got %v", err)
	}
	if _, err := NewOutboxMessage("Order.Created", nil, nil, now); !errors.Is(err, ErrPayloadRequired) {
		t.Fatalf("expected ErrPayloadRequired, got %v", err)
	}
}

func TestNewOutboxMessageSkipTransientStartsReady(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := NewMetaData("m1", WithSkipTransientDispatch())

	msg, err := NewOutboxMessage("Order.Created", []byte(`{}`), meta, now)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if msg.Status != StatusReady {
		t.Fatalf("expected ready status, got %v", msg.Status)
	}
}

func TestNewOutboxMessageDelayShiftsPriority(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := NewMetaData("m1", WithDelay(10*time.Minute))

	msg, err := NewOutboxMessage("Order.Created", []byte(`{}`), meta, now)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if want := now.Add(10 * time.Minute); !msg.PriorityAt.Equal(want) {
		t.Fatalf("expected priority %v, got %v", want, msg.PriorityAt)
	}
	if !msg.CreatedAt.Equal(now) {
		t.Fatalf("expected created-at unshifted")
	}
}

func TestIsExpiredBoundaryInclusive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewOutboxMessage("Order.Created", []byte(`{}`), nil, now, WithExpiresAt(now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	if msg.IsExpired(now.Add(time.Hour - time.Nanosecond)) {
		t.Fatalf("expected message live before deadline")
	}
	if !msg.IsExpired(now.Add(time.Hour)) {
		t.Fatalf("expected message expired exactly at deadline")
	}
	if !msg.IsExpired(now.Add(2 * time.Hour)) {
		t.Fatalf("expected message expired past deadline")
	}

	fresh, _ := NewOutboxMessage("Order.Created", []byte(`{}`), nil, now)
	if fresh.IsExpired(now.Add(100 * time.Hour)) {
		t.Fatalf("expected message without deadline to never expire")
	}
}

func TestMetaDataEncodeDecode(t *testing.T) {
	meta := NewMetaData("m1", WithCorrelationID("order-1"), WithDelay(time.Minute), WithSkipTransientDispatch())

	data, err := EncodeMetaData(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeMetaData(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *meta {
		t.Fatalf("metadata mismatch: %+v != %+v", decoded, meta)
	}
}

func TestMetaDataNilRoundTrip(t *testing.T) {
	data, err := EncodeMetaData(nil)
	if err != nil || data != nil {
		t.Fatalf("expected nil encoding, got %v %v", data, err)
	}
	meta, err := DecodeMetaData(nil)
	if err != nil || meta != nil {
		t.Fatalf("expected nil decoding, got %v %v", meta, err)
	}
}

func TestStatusLifecycle(t *testing.T) {
	if StatusReady.IsTerminal() || StatusPending.IsTerminal() {
		t.Fatalf("expected non-terminal active statuses")
	}
	if !StatusCompleted.IsTerminal() || !StatusDead.IsTerminal() {
		t.Fatalf("expected terminal end statuses")
	}
	if Status(42).IsValid() {
		t.Fatalf("expected unknown status to be invalid")
	}

	for _, status := range []Status{StatusReady, StatusPending, StatusCompleted, StatusDead} {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("parse %q: %v", status, err)
		}
		if parsed != status {
			t.Fatalf("round trip mismatch for %q", status)
		}
	}

	if _, err := ParseStatus("unknown"); err == nil {
		t.Fatalf("expected error for unknown status name")
	}
}
