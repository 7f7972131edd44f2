package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"watt-rewards/internal/eventing/eventbus"
)

type testEvent struct {
	UserID  string `json:"user_id"`
	ClaimID string `json:"claim_id"`
	Tokens  int64  `json:"tokens"`
}

type fakeOutbox struct {
	pending []OutboxRecord
	sent    []string
	failed  []string
}

func (o *fakeOutbox) Insert(ctx context.Context, env Envelope) (string, error) {
	id := env.EventID
	o.pending = append(o.pending, OutboxRecord{ID: id, Envelope: env})
	return id, nil
}

func (o *fakeOutbox) ListPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if limit > len(o.pending) {
		limit = len(o.pending)
	}
	return append([]OutboxRecord(nil), o.pending[:limit]...), nil
}

func (o *fakeOutbox) MarkSent(ctx context.Context, id string) error {
	o.sent = append(o.sent, id)
	o.remove(id)
	return nil
}

func (o *fakeOutbox) MarkFailed(ctx context.Context, id string) error {
	o.failed = append(o.failed, id)
	o.remove(id)
	return nil
}

func (o *fakeOutbox) remove(id string) {
	var keep []OutboxRecord
	for _, record := range o.pending {
		if record.ID != id {
			keep = append(keep, record)
		}
	}
	o.pending = keep
}

type fakeDLQ struct {
	failures []Envelope
}

func (d *fakeDLQ) RecordFailure(ctx context.Context, env Envelope, err error) error {
	d.failures = append(d.failures, env)
	return nil
}

func TestPublisher_OutboxThenDispatch(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(testEvent{})
	outbox := &fakeOutbox{}
	dlq := &fakeDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq, nil)
	publisher := NewPublisher(outbox, dispatcher, bus)

	var delivered []testEvent
	bus.Subscribe(eventbus.EventTypeOf[testEvent](), func(ctx context.Context, event any) error {
		delivered = append(delivered, event.(testEvent))
		return nil
	})

	ctx := WithUserID(context.Background(), "user-1")
	if err := publisher.Publish(ctx, testEvent{UserID: "user-1", ClaimID: "claim-1", Tokens: 7}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	if delivered[0].Tokens != 7 {
		t.Fatalf("unexpected payload %+v", delivered[0])
	}
	if len(outbox.sent) != 1 {
		t.Fatalf("dispatched record must be marked sent, got %v", outbox.sent)
	}
	if len(dlq.failures) != 0 {
		t.Fatalf("no failures expected, got %d", len(dlq.failures))
	}
}

func TestDispatcher_HandlerFailureGoesToDLQ(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(testEvent{})
	outbox := &fakeOutbox{}
	dlq := &fakeDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq, nil)

	bus.Subscribe(eventbus.EventTypeOf[testEvent](), func(ctx context.Context, event any) error {
		return errors.New("handler exploded")
	})

	env, err := BuildEnvelope(testEvent{UserID: "user-1", ClaimID: "claim-1"}, Meta{EventID: "evt-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if _, err := outbox.Insert(context.Background(), env); err != nil {
		t.Fatalf("insert: %v", err)
	}

	delivered, err := dispatcher.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("failed event must not count as delivered, got %d", delivered)
	}
	if len(outbox.failed) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(outbox.failed))
	}
	if len(dlq.failures) != 1 {
		t.Fatalf("expected 1 DLQ record, got %d", len(dlq.failures))
	}
}

func TestDispatcher_UnknownEventTypeGoesToDLQ(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	outbox := &fakeOutbox{}
	dlq := &fakeDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq, nil)

	payload, _ := json.Marshal(map[string]any{"user_id": "user-1"})
	env := Envelope{EventID: "evt-2", EventType: "nosuch.Event", Payload: payload, SchemaVersion: 1}
	if _, err := outbox.Insert(context.Background(), env); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(dlq.failures) != 1 {
		t.Fatalf("undecodable event must land in the DLQ, got %d", len(dlq.failures))
	}
}

func TestBuildEnvelope_ExtractsMetadataFromEvent(t *testing.T) {
	env, err := BuildEnvelope(testEvent{UserID: "user-9", ClaimID: "claim-9"}, Meta{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.UserID != "user-9" {
		t.Fatalf("expected user id from payload, got %q", env.UserID)
	}
	if env.SubjectID != "claim-9" {
		t.Fatalf("expected subject from claim id, got %q", env.SubjectID)
	}
	if env.EventID == "" || env.SchemaVersion != 1 {
		t.Fatalf("envelope defaults missing: %+v", env)
	}
}
