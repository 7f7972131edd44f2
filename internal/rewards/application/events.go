package application

import "time"

// EventRewardsClaimed identifies a committed claim cycle on the bus.
const EventRewardsClaimed = "rewards.claimed"

// RewardsClaimed is published after a claim commits with a positive
// token total. Consumers (the mint sink) must treat ClaimID as the
// idempotency key.
type RewardsClaimed struct {
	ClaimID       string    `json:"claim_id"`
	UserID        string    `json:"user_id"`
	TokensClaimed int64     `json:"tokens_claimed"`
	OccurredAt    time.Time `json:"occurred_at"`
}
