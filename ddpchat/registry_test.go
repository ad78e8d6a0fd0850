package ddpchat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryResolveOnce(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("messages_r1", OpHistoryFetch, "r1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	op, err := r.Resolve("messages_r1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if op.Kind != OpHistoryFetch || op.RoomID != "r1" {
		t.Fatalf("unexpected operation: %+v", op)
	}
	if _, err := r.Resolve("messages_r1"); !errors.Is(err, ErrUnknownCorrelationID) {
		t.Fatalf("expected ErrUnknownCorrelationID, got %v", err)
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register("room_r1", OpOpenRoom, "r1")
	if _, err := r.Register("room_r1", OpOpenRoom, "r1"); !errors.Is(err, ErrDuplicateCorrelationID) {
		t.Fatalf("expected ErrDuplicateCorrelationID, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", r.Len())
	}
}

func TestRegistryOutOfOrderReplies(t *testing.T) {
	r := NewRegistry()
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if _, err := r.Register(id, OpMethod, ""); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	for _, id := range []string{"c", "a", "b"} {
		op, err := r.Resolve(id)
		if err != nil || op.ID != id {
			t.Fatalf("resolve %s: %v %+v", id, err, op)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryAbandonAll(t *testing.T) {
	r := NewRegistry()
	var ops []*PendingOperation
	for _, id := range []string{"login", "rooms", "room_r1"} {
		op, _ := r.Register(id, OpMethod, "")
		ops = append(ops, op)
	}

	abandoned := r.AbandonAll()
	if len(abandoned) != 3 {
		t.Fatalf("expected 3 abandoned, got %d", len(abandoned))
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	for _, op := range ops {
		_, err := op.Wait(context.Background())
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("%s: expected ErrConnectionLost, got %v", op.ID, err)
		}
	}
}

func TestPendingOperationCompletesOnce(t *testing.T) {
	r := NewRegistry()
	op, _ := r.Register("x", OpMethod, "")
	op.complete([]byte(`1`), nil)
	op.complete(nil, ErrConnectionLost)
	res, err := op.Wait(context.Background())
	if err != nil || string(res) != "1" {
		t.Fatalf("first completion should stick, got %s %v", res, err)
	}
}

func TestPendingOperationWaitHonorsContext(t *testing.T) {
	r := NewRegistry()
	op, _ := r.Register("x", OpMethod, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := op.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !r.Outstanding("x") {
		t.Fatalf("giving up on Wait must not resolve the operation")
	}
}
