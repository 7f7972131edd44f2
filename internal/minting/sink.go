package minting

import (
	"context"
	"time"
)

// MintRequest asks the token backend to credit a user's wallet for one
// committed claim. ClaimID is the idempotency key across retries.
type MintRequest struct {
	ClaimID    string    `json:"claim_id"`
	UserID     string    `json:"user_id"`
	Tokens     int64     `json:"tokens"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink submits mint requests to the token backend.
type Sink interface {
	SubmitMint(ctx context.Context, req MintRequest) error
}
