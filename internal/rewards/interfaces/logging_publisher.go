package interfaces

import (
	"context"
	"errors"
	"log"

	"watt-rewards/internal/rewards/application"
)

// LoggingPublisher logs claim events. Used when no outbox is wired.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishRewardsClaimed logs the event.
func (p *LoggingPublisher) PublishRewardsClaimed(ctx context.Context, event application.RewardsClaimed) error {
	_ = ctx
	if p == nil {
		return errors.New("rewards publisher: nil publisher")
	}
	p.logger.Printf("rewards claimed: claim=%s user=%s tokens=%d", event.ClaimID, event.UserID, event.TokensClaimed)
	return nil
}
