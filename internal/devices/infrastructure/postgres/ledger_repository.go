package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

const deviceColumns = `user_id, provider, device_id, device_type, lifetime_totals, baseline,
	last_claimed_at, flagged_for_review, flag_reason, version, created_at, updated_at`

// LedgerRepository persists the per-device ledger rows.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository constructs a repository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts a newly linked device. The baseline must already be
// seeded to the first observed reading so linking grants no credit for
// past activity.
func (r *LedgerRepository) Create(ctx context.Context, device devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	totals, err := json.Marshal(device.LifetimeTotals)
	if err != nil {
		return err
	}
	baseline, err := json.Marshal(device.Baseline)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO devices (
	user_id, provider, device_id, device_type, lifetime_totals, baseline,
	flagged_for_review, flag_reason, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,FALSE,'',1,$7,$7)
ON CONFLICT (user_id, provider, device_id) DO NOTHING`,
		device.UserID, device.Provider, device.DeviceID, string(device.Type),
		totals, baseline, device.CreatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrDeviceAlreadyLinked
	}
	return nil
}

// Get fetches one device row.
func (r *LedgerRepository) Get(ctx context.Context, userID, provider, deviceID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE user_id = $1 AND provider = $2 AND device_id = $3
LIMIT 1`, userID, provider, deviceID)
	return scanDevice(row)
}

// ListByUser returns all devices linked by a user.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE user_id = $1
ORDER BY provider ASC, device_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	return collectDevices(rows)
}

// ListFlagged returns devices awaiting manual review, for the admin view.
func (r *LedgerRepository) ListFlagged(ctx context.Context, limit int) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE flagged_for_review
ORDER BY updated_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectDevices(rows)
}

// MergeLifetimeTotals folds a fresh reading into lifetime_totals without
// touching the baseline.
func (r *LedgerRepository) MergeLifetimeTotals(ctx context.Context, userID, provider, deviceID string, reading devices.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE devices
SET lifetime_totals = lifetime_totals || $4::jsonb,
	updated_at = $5,
	version = version + 1
WHERE user_id = $1 AND provider = $2 AND device_id = $3`,
		userID, provider, deviceID, payload, time.Now().UTC())
	return err
}

// ResolveFlag clears a manual review flag and re-seeds the baseline to
// the reading the reviewer approved.
func (r *LedgerRepository) ResolveFlag(ctx context.Context, userID, provider, deviceID string, baseline devices.Reading, resolvedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	payload, err := json.Marshal(baseline)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE devices
SET flagged_for_review = FALSE,
	flag_reason = '',
	baseline = $4::jsonb,
	lifetime_totals = $4::jsonb,
	updated_at = $5,
	version = version + 1
WHERE user_id = $1 AND provider = $2 AND device_id = $3`,
		userID, provider, deviceID, payload, resolvedAt)
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

// Delete unlinks a device. The reward ledger keeps its entries.
func (r *LedgerRepository) Delete(ctx context.Context, userID, provider, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM devices
WHERE user_id = $1 AND provider = $2 AND device_id = $3`,
		userID, provider, deviceID)
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

func collectDevices(rows *sql.Rows) ([]devices.Device, error) {
	defer rows.Close()
	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		if device != nil {
			result = append(result, *device)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var device devices.Device
	var deviceType string
	var totals []byte
	var baseline []byte
	var lastClaimed sql.NullTime
	var flagReason sql.NullString
	err := row.Scan(
		&device.UserID,
		&device.Provider,
		&device.DeviceID,
		&deviceType,
		&totals,
		&baseline,
		&lastClaimed,
		&device.FlaggedForReview,
		&flagReason,
		&device.Version,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, devices.ErrDeviceNotFound
		}
		return nil, err
	}
	device.Type = devices.DeviceType(deviceType)
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &device.LifetimeTotals); err != nil {
			return nil, err
		}
	}
	if len(baseline) > 0 {
		if err := json.Unmarshal(baseline, &device.Baseline); err != nil {
			return nil, err
		}
	}
	if lastClaimed.Valid {
		device.LastClaimedAt = lastClaimed.Time.UTC()
	}
	if flagReason.Valid {
		device.FlagReason = flagReason.String
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
