package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

// LedgerRepository is an in-memory device ledger for tests.
type LedgerRepository struct {
	mu      sync.RWMutex
	devices map[string]map[string]devices.Device // userID -> device key
}

// NewLedgerRepository constructs an empty repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{devices: make(map[string]map[string]devices.Device)}
}

// Create inserts a newly linked device.
func (r *LedgerRepository) Create(ctx context.Context, device devices.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.devices[device.UserID]
	if !ok {
		byKey = make(map[string]devices.Device)
		r.devices[device.UserID] = byKey
	}
	if _, exists := byKey[device.Key()]; exists {
		return devices.ErrDeviceAlreadyLinked
	}
	byKey[device.Key()] = device.Clone()
	return nil
}

// Get fetches one device.
func (r *LedgerRepository) Get(ctx context.Context, userID, provider, deviceID string) (*devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[userID][provider+"|"+deviceID]
	if !ok {
		return nil, devices.ErrDeviceNotFound
	}
	clone := device.Clone()
	return &clone, nil
}

// ListByUser returns all of a user's devices in a stable order.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []devices.Device
	for _, device := range r.devices[userID] {
		result = append(result, device.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result, nil
}

// ListFlagged returns devices awaiting manual review.
func (r *LedgerRepository) ListFlagged(ctx context.Context, limit int) ([]devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []devices.Device
	for _, byKey := range r.devices {
		for _, device := range byKey {
			if device.FlaggedForReview {
				result = append(result, device.Clone())
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MergeLifetimeTotals folds a reading into stored lifetime totals.
func (r *LedgerRepository) MergeLifetimeTotals(ctx context.Context, userID, provider, deviceID string, reading devices.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[userID][provider+"|"+deviceID]
	if !ok {
		return devices.ErrDeviceNotFound
	}
	if device.LifetimeTotals == nil {
		device.LifetimeTotals = devices.Reading{}
	}
	for key, value := range reading {
		device.LifetimeTotals[key] = value
	}
	device.UpdatedAt = time.Now().UTC()
	device.Version++
	r.devices[userID][provider+"|"+deviceID] = device
	return nil
}

// ResolveFlag clears a review flag and re-seeds the baseline.
func (r *LedgerRepository) ResolveFlag(ctx context.Context, userID, provider, deviceID string, baseline devices.Reading, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[userID][provider+"|"+deviceID]
	if !ok {
		return devices.ErrDeviceNotFound
	}
	device.FlaggedForReview = false
	device.FlagReason = ""
	device.Baseline = baseline.Clone()
	device.LifetimeTotals = baseline.Clone()
	device.UpdatedAt = resolvedAt
	device.Version++
	r.devices[userID][provider+"|"+deviceID] = device
	return nil
}

// Delete unlinks a device.
func (r *LedgerRepository) Delete(ctx context.Context, userID, provider, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[userID][provider+"|"+deviceID]; !ok {
		return devices.ErrDeviceNotFound
	}
	delete(r.devices[userID], provider+"|"+deviceID)
	return nil
}
