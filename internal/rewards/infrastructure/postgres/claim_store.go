package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/rewards/application"
	rewards "watt-rewards/internal/rewards/domain"
)

// ClaimStore runs claim commits as a single transaction serialized per
// user with a session-scoped advisory lock.
type ClaimStore struct {
	db *sql.DB
}

// NewClaimStore constructs a store.
func NewClaimStore(db *sql.DB) *ClaimStore {
	return &ClaimStore{db: db}
}

// WithUserClaim opens a transaction, takes the user's advisory lock and
// runs fn. A held lock means another claim cycle is mid-commit for the
// same user and rewards.ErrConcurrentClaim is returned without waiting.
// Any fn error rolls the whole transaction back.
func (s *ClaimStore) WithUserClaim(ctx context.Context, userID string, fn func(ctx context.Context, tx application.ClaimTx) error) error {
	if s == nil || s.db == nil {
		return errors.New("claim store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var locked bool
	if err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`, userID).Scan(&locked); err != nil {
		_ = tx.Rollback()
		return err
	}
	if !locked {
		_ = tx.Rollback()
		return rewards.ErrConcurrentClaim
	}
	if err := fn(ctx, &claimTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type claimTx struct {
	tx *sql.Tx
}

// DevicesForUpdate locks and returns the user's device rows so the
// baselines read here cannot move under the commit.
func (c *claimTx) DevicesForUpdate(ctx context.Context, userID string) ([]devices.Device, error) {
	rows, err := c.tx.QueryContext(ctx, `
SELECT user_id, provider, device_id, device_type, lifetime_totals, baseline,
	last_claimed_at, flagged_for_review, flag_reason, version, created_at, updated_at
FROM devices
WHERE user_id = $1
ORDER BY provider ASC, device_id ASC
FOR UPDATE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertEntry appends a reward entry. The unique basis fingerprint
// turns a retried commit's duplicate into a no-op.
func (c *claimTx) InsertEntry(ctx context.Context, entry rewards.Entry) (bool, error) {
	res, err := c.tx.ExecContext(ctx, `
INSERT INTO reward_entries (
	id, claim_id, user_id, provider, device_id, category,
	tokens_amount, activity_basis, basis_fingerprint, claimed, claimed_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (basis_fingerprint) DO NOTHING`,
		entry.ID, entry.ClaimID, entry.UserID, entry.Provider, entry.DeviceID, string(entry.Category),
		entry.TokensAmount, entry.ActivityBasis, entry.BasisFingerprint, entry.Claimed, entry.ClaimedAt, entry.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AdvanceBaseline replaces the device baseline with the cycle's reading
// and stamps last_claimed_at. Lifetime totals are refreshed to the same
// reading since it is the freshest observation.
func (c *claimTx) AdvanceBaseline(ctx context.Context, userID, provider, deviceID string, reading devices.Reading, claimedAt time.Time) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	res, err := c.tx.ExecContext(ctx, `
UPDATE devices
SET baseline = $4::jsonb,
	lifetime_totals = $4::jsonb,
	last_claimed_at = $5,
	updated_at = $5,
	version = version + 1
WHERE user_id = $1 AND provider = $2 AND device_id = $3`,
		userID, provider, deviceID, payload, claimedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrDeviceNotFound
	}
	return nil
}

// FlagDevice marks a device for manual review without unlinking it.
func (c *claimTx) FlagDevice(ctx context.Context, userID, provider, deviceID, reason string) error {
	_, err := c.tx.ExecContext(ctx, `
UPDATE devices
SET flagged_for_review = TRUE,
	flag_reason = $4,
	updated_at = NOW(),
	version = version + 1
WHERE user_id = $1 AND provider = $2 AND device_id = $3`,
		userID, provider, deviceID, reason)
	return err
}
