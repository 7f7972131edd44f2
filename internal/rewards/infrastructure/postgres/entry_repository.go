package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	rewards "watt-rewards/internal/rewards/domain"
)

const entryColumns = `id, claim_id, user_id, provider, device_id, category,
	tokens_amount, activity_basis, basis_fingerprint, claimed, claimed_at, created_at`

// EntryRepository reads the append-only reward ledger.
type EntryRepository struct {
	db *sql.DB
}

// NewEntryRepository constructs a repository.
func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// ListByUser returns a user's entries, newest first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]rewards.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("entry repo: nil db")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM reward_entries
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListByClaimID returns all entries committed by one claim cycle.
func (r *EntryRepository) ListByClaimID(ctx context.Context, claimID string) ([]rewards.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("entry repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM reward_entries
WHERE claim_id = $1
ORDER BY provider ASC, device_id ASC, category ASC`, claimID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListSince returns entries created in [from, to), across all users.
// Used by the admin views and exports.
func (r *EntryRepository) ListSince(ctx context.Context, from, to time.Time, limit int) ([]rewards.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("entry repo: nil db")
	}
	if limit <= 0 || limit > 10000 {
		limit = 5000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM reward_entries
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at ASC, id ASC
LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// TotalTokensByUser sums every claimed token a user has ever earned.
func (r *EntryRepository) TotalTokensByUser(ctx context.Context, userID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("entry repo: nil db")
	}
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT SUM(tokens_amount)
FROM reward_entries
WHERE user_id = $1 AND claimed`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

func collectEntries(rows *sql.Rows) ([]rewards.Entry, error) {
	defer rows.Close()
	var result []rewards.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result = append(result, *entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
