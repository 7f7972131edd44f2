package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"

	devices "watt-rewards/internal/devices/domain"
	rewards "watt-rewards/internal/rewards/domain"
)

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

func scanEntry(row rowScanner) (*rewards.Entry, error) {
	var entry rewards.Entry
	var category string
	var claimedAt sql.NullTime
	err := row.Scan(
		&entry.ID,
		&entry.ClaimID,
		&entry.UserID,
		&entry.Provider,
		&entry.DeviceID,
		&category,
		&entry.TokensAmount,
		&entry.ActivityBasis,
		&entry.BasisFingerprint,
		&entry.Claimed,
		&claimedAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	entry.Category = devices.Category(category)
	if claimedAt.Valid {
		entry.ClaimedAt = claimedAt.Time.UTC()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}
