package eventing

import (
	"context"
	"log"

	"watt-rewards/internal/observability/metrics"
)

// Dispatcher drains the outbox and delivers reward events to the
// in-process bus. Undecodable or undeliverable events are parked in the
// DLQ so a bad payload cannot wedge the queue.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	logger   *log.Logger
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// NewDispatcher constructs a dispatcher. The logger may be nil.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, logger *log.Logger) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq, logger: logger}
}

// Dispatch pulls up to limit pending outbox messages and delivers them.
// It returns the number of events delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (int, error) {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			d.park(ctx, record, env, "decode", err)
			continue
		}

		ctxWithEnv := WithEnvelope(ctx, env)
		if err := d.bus.Publish(ctxWithEnv, payload); err != nil {
			d.park(ctx, record, env, "publish", err)
			continue
		}

		_ = d.outbox.MarkSent(ctx, record.ID)
		metrics.IncEventDispatch(env.EventType, metrics.ResultSuccess)
		delivered++
	}
	return delivered, nil
}

// park marks the record failed and writes it to the DLQ.
func (d *Dispatcher) park(ctx context.Context, record OutboxRecord, env Envelope, stage string, cause error) {
	_ = d.outbox.MarkFailed(ctx, record.ID)
	if d.dlq != nil {
		_ = d.dlq.RecordFailure(ctx, env, cause)
	}
	metrics.IncEventDispatch(env.EventType, metrics.ResultError)
	if d.logger != nil {
		d.logger.Printf("eventing: %s failed for event %s (type=%s user=%s): %v",
			stage, env.EventID, env.EventType, env.UserID, cause)
	}
}
