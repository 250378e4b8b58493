package eventfully

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSessionSendStagesEncodedMessage(t *testing.T) {
	ctx := context.Background()
	tx := &fakeDispatchTx{store: newFakeDispatchStore()}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sess := NewSession(tx, JSONCodec{}, clock, "corr-1")

	if err := sess.Send(ctx, &orderCreated{OrderID: "o1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sess.Send(ctx, &orderShipped{OrderID: "o1"}, WithDelay(time.Minute)); err != nil {
		t.Fatalf("send: %v", err)
	}

	staged := sess.Staged()
	if len(staged) != 2 || len(tx.staged) != 2 {
		t.Fatalf("expected 2 staged messages, got %d/%d", len(staged), len(tx.staged))
	}

	first := staged[0]
	if first.Type != "Order.Created" {
		t.Fatalf("unexpected type: %s", first.Type)
	}
	var decoded orderCreated
	if err := json.Unmarshal(first.Payload, &decoded); err != nil || decoded.OrderID != "o1" {
		t.Fatalf("unexpected payload: %s %v", first.Payload, err)
	}
	if first.CorrelationID() != "corr-1" {
		t.Fatalf("expected ambient correlation id, got %q", first.CorrelationID())
	}
	if first.Meta.MessageID == "" {
		t.Fatalf("expected generated message id")
	}

	second := staged[1]
	if want := clock.now.Add(time.Minute); !second.PriorityAt.Equal(want) {
		t.Fatalf("expected delayed priority %v, got %v", want, second.PriorityAt)
	}
}

func TestSessionSendExplicitCorrelationWins(t *testing.T) {
	ctx := context.Background()
	tx := &fakeDispatchTx{store: newFakeDispatchStore()}
	sess := NewSession(tx, nil, nil, "ambient")

	if err := sess.Send(ctx, &orderCreated{OrderID: "o1"}, WithCorrelationID("explicit")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sess.Staged()[0].CorrelationID(); got != "explicit" {
		t.Fatalf("expected explicit correlation id, got %q", got)
	}
}
