package interfaces

import (
	"context"

	"watt-rewards/internal/eventing"
	"watt-rewards/internal/rewards/application"
)

// OutboxPublisher writes claim events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// PublishRewardsClaimed writes the event to outbox.
func (p *OutboxPublisher) PublishRewardsClaimed(ctx context.Context, event application.RewardsClaimed) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithUserID(ctx, event.UserID)
	return p.publisher.Publish(ctx, event)
}
