package minting

import (
	"context"
	"errors"
	"log"

	"watt-rewards/internal/eventing"
	"watt-rewards/internal/eventing/eventbus"
	"watt-rewards/internal/observability/metrics"
	rewardapp "watt-rewards/internal/rewards/application"
)

// ConsumerName identifies the mint consumer for idempotency tracking.
const ConsumerName = "mint-sink"

// Consumer forwards committed claim events to the token backend.
type Consumer struct {
	sink   Sink
	logger *log.Logger
}

// NewConsumer constructs a consumer.
func NewConsumer(sink Sink, logger *log.Logger) (*Consumer, error) {
	if sink == nil {
		return nil, errors.New("mint consumer: nil sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{sink: sink, logger: logger}, nil
}

// HandleRewardsClaimed submits one mint per claim event. A returned
// error leaves the event unacknowledged so dispatch can retry it.
func (c *Consumer) HandleRewardsClaimed(ctx context.Context, event any) error {
	claimed, ok := event.(rewardapp.RewardsClaimed)
	if !ok {
		return errors.New("mint consumer: unexpected event type")
	}
	if claimed.TokensClaimed <= 0 {
		return nil
	}
	err := c.sink.SubmitMint(ctx, MintRequest{
		ClaimID:    claimed.ClaimID,
		UserID:     claimed.UserID,
		Tokens:     claimed.TokensClaimed,
		OccurredAt: claimed.OccurredAt,
	})
	if err != nil {
		metrics.IncMintSubmit(metrics.ResultError)
		c.logger.Printf("mint submit failed: claim=%s err=%v", claimed.ClaimID, err)
		return err
	}
	metrics.IncMintSubmit(metrics.ResultSuccess)
	return nil
}

// Register subscribes the consumer on the bus with idempotency, so a
// redelivered claim event mints at most once.
func (c *Consumer) Register(bus eventbus.EventBus, processed eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventbus.EventTypeOf[rewardapp.RewardsClaimed](), ConsumerName, c.HandleRewardsClaimed, processed)
}
