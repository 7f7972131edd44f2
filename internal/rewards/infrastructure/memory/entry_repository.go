package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	rewards "watt-rewards/internal/rewards/domain"
)

// EntryRepository is an in-memory reward ledger for tests.
type EntryRepository struct {
	mu      sync.RWMutex
	entries []rewards.Entry
}

// NewEntryRepository constructs an empty repository.
func NewEntryRepository() *EntryRepository {
	return &EntryRepository{}
}

// Append stores entries directly, bypassing claim semantics.
func (r *EntryRepository) Append(entries ...rewards.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

// ListByUser returns a user's entries, newest first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]rewards.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rewards.Entry
	for _, entry := range r.entries {
		if entry.UserID == userID {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByClaimID returns all entries committed by one claim cycle.
func (r *EntryRepository) ListByClaimID(ctx context.Context, claimID string) ([]rewards.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rewards.Entry
	for _, entry := range r.entries {
		if entry.ClaimID == claimID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// ListSince returns entries created in [from, to).
func (r *EntryRepository) ListSince(ctx context.Context, from, to time.Time, limit int) ([]rewards.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rewards.Entry
	for _, entry := range r.entries {
		if !entry.CreatedAt.Before(from) && entry.CreatedAt.Before(to) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TotalTokensByUser sums a user's claimed tokens.
func (r *EntryRepository) TotalTokensByUser(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, entry := range r.entries {
		if entry.UserID == userID && entry.Claimed {
			total += entry.TokensAmount
		}
	}
	return total, nil
}
