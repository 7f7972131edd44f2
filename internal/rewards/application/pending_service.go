package application

import (
	"context"
	"errors"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/observability/metrics"
	"watt-rewards/internal/providers"
	rewards "watt-rewards/internal/rewards/domain"
)

// DeviceLedger is the device read/refresh surface the pending view uses.
type DeviceLedger interface {
	DeviceLister
	// MergeLifetimeTotals folds a fresh reading into the stored
	// lifetime totals so the next offline estimate starts closer to
	// reality. Baselines are never touched.
	MergeLifetimeTotals(ctx context.Context, userID, provider, deviceID string, reading devices.Reading) error
}

// ReadingCache is a short-lived cache in front of provider reads.
type ReadingCache interface {
	Get(ctx context.Context, provider, deviceID string) (devices.Reading, bool, error)
	Set(ctx context.Context, provider, deviceID string, reading devices.Reading) error
}

// PendingCategory is the unclaimed position for one category.
type PendingCategory struct {
	ActivityBasis float64 `json:"activity_basis"`
	Tokens        int64   `json:"tokens"`
}

// PendingResult is a read-only estimate of what a claim would grant now.
type PendingResult struct {
	TotalTokens  int64                                `json:"total_tokens"`
	PerCategory  map[devices.Category]PendingCategory `json:"per_category"`
	StaleDevices []SkippedDevice                      `json:"stale_devices,omitempty"`
	ComputedAt   time.Time                            `json:"computed_at"`
}

// PendingService computes the pending-rewards view. It never writes
// reward entries and never moves baselines; its only side effects are
// cache fills and lifetime-total refreshes.
type PendingService struct {
	ledger  DeviceLedger
	fetcher ReadingFetcher
	cache   ReadingCache
	rates   RateProvider
	clock   Clock
}

// NewPendingService constructs the pending read path. cache may be nil,
// in which case every call hits the providers.
func NewPendingService(
	ledger DeviceLedger,
	fetcher ReadingFetcher,
	cache ReadingCache,
	rates RateProvider,
	clock Clock,
) (*PendingService, error) {
	if ledger == nil {
		return nil, errors.New("pending service: nil device ledger")
	}
	if fetcher == nil {
		return nil, errors.New("pending service: nil fetcher")
	}
	if rates == nil {
		return nil, errors.New("pending service: nil rate provider")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &PendingService{
		ledger:  ledger,
		fetcher: fetcher,
		cache:   cache,
		rates:   rates,
		clock:   clock,
	}, nil
}

// Pending returns the current unclaimed position across all of the
// user's devices. A device whose provider cannot be reached falls back
// to its last stored lifetime totals and is reported as stale.
func (s *PendingService) Pending(ctx context.Context, userID string) (*PendingResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObservePending(result, time.Since(start))
	}()

	if userID == "" {
		result = metrics.ResultError
		return nil, rewards.ErrEmptyUserID
	}

	owned, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	out := &PendingResult{
		PerCategory: make(map[devices.Category]PendingCategory),
		ComputedAt:  s.clock.Now().UTC(),
	}
	for _, device := range owned {
		reading, stale, reason := s.currentReading(ctx, userID, device)
		if stale {
			out.StaleDevices = append(out.StaleDevices, SkippedDevice{
				Provider: device.Provider,
				DeviceID: device.DeviceID,
				Reason:   reason,
			})
		}
		if len(reading) == 0 {
			continue
		}
		for _, delta := range rewards.ComputeDelta(reading, device.Baseline, device.Type.Categories()) {
			if delta.Delta <= 0 {
				continue
			}
			tokens := s.rates.TokensFor(delta.Category, delta.Delta)
			agg := out.PerCategory[delta.Category]
			agg.ActivityBasis += delta.Delta
			agg.Tokens += tokens
			out.PerCategory[delta.Category] = agg
			out.TotalTokens += tokens
		}
	}
	return out, nil
}

// currentReading resolves the freshest reading available for a device:
// cache, then provider, then the stored lifetime totals as a stale
// last resort.
func (s *PendingService) currentReading(ctx context.Context, userID string, device devices.Device) (devices.Reading, bool, string) {
	if s.cache != nil {
		if reading, ok, err := s.cache.Get(ctx, device.Provider, device.DeviceID); err == nil && ok {
			return reading, false, ""
		}
	}
	reading, err := s.fetcher.Fetch(ctx, userID, device.Provider, device.DeviceID)
	if err != nil {
		return device.LifetimeTotals.Clone(), true, providers.SkipReason(err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, device.Provider, device.DeviceID, reading)
	}
	_ = s.ledger.MergeLifetimeTotals(ctx, userID, device.Provider, device.DeviceID, reading)
	return reading, false, ""
}
